package steam

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Prober answers one question per call: is this URL reachable right now.
// Transport errors, timeouts, and bad statuses all collapse to false; the
// caller never sees why. The pooled client is shared and safe for
// concurrent probes; each call carries its own timeout.
type Prober struct {
	client  *http.Client
	timeout atomic.Int64 // ns; hot-reloadable

	closeOnce sync.Once
	closed    atomic.Int32
}

func NewProber(timeout time.Duration) *Prober {
	p := &Prober{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        8,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	p.SetTimeout(timeout)
	return p
}

// SetTimeout changes the per-probe timeout for subsequent calls.
func (p *Prober) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultProbeTimeout
	}
	p.timeout.Store(int64(d))
}

// Probe reports whether url answered with a status in [200,400) within
// the timeout.
func (p *Prober) Probe(ctx context.Context, url string) bool {
	if p.closed.Load() != 0 {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, time.Duration(p.timeout.Load()))
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// Close releases pooled connections. Safe to call more than once; only
// the first call does anything.
func (p *Prober) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(1)
		if t, ok := p.client.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	})
}

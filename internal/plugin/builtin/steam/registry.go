package steam

import "time"

// Transition is one detected reachability flip.
type Transition struct {
	Name string
	URL  string
	Up   bool // the new verdict
	At   time.Time
}

// StatusRegistry tracks the last-known verdict per endpoint in insertion
// order. New endpoints start reachable, so the first real failure reports
// as degraded instead of a spurious recovery. Single writer: only the
// monitor loop mutates it.
type StatusRegistry struct {
	order []Endpoint
	state map[string]bool
}

func NewStatusRegistry(endpoints []Endpoint) *StatusRegistry {
	r := &StatusRegistry{state: map[string]bool{}}
	r.Sync(endpoints)
	return r
}

// Sync reconciles the tracked set with a (possibly hot-reloaded) endpoint
// list: exactly one entry per configured endpoint, known verdicts kept,
// new endpoints optimistic-true, removed ones dropped.
func (r *StatusRegistry) Sync(endpoints []Endpoint) {
	next := make(map[string]bool, len(endpoints))
	order := make([]Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if _, dup := next[ep.Name]; dup {
			continue
		}
		up, known := r.state[ep.Name]
		if !known {
			up = true
		}
		next[ep.Name] = up
		order = append(order, ep)
	}
	r.state = next
	r.order = order
}

// Diff compares fresh verdicts against the stored state, records the new
// values, and returns one Transition per changed endpoint in configured
// order. Endpoints missing from verdicts are left untouched.
func (r *StatusRegistry) Diff(verdicts map[string]bool) []Transition {
	now := time.Now()
	var out []Transition
	for _, ep := range r.order {
		up, ok := verdicts[ep.Name]
		if !ok {
			continue
		}
		if prev := r.state[ep.Name]; prev != up {
			out = append(out, Transition{Name: ep.Name, URL: ep.URL, Up: up, At: now})
			r.state[ep.Name] = up
		}
	}
	return out
}

// Endpoints returns the tracked endpoints in configured order.
func (r *StatusRegistry) Endpoints() []Endpoint {
	return append([]Endpoint(nil), r.order...)
}

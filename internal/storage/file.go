package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "steamwatch/pkg/logx"
)

// recentKeep bounds the in-memory tail served by RecentTransitions.
const recentKeep = 1000

// fileStore is the dependency-free backend: an append-only JSON Lines log
// plus an in-memory tail replayed at open for recent-history queries.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	file   *os.File
	recent []Transition // oldest first, bounded by recentKeep
}

type transitionRecord struct {
	At       int64  `json:"at"` // unix milli
	Plugin   string `json:"plugin,omitempty"`
	Endpoint string `json:"endpoint"`
	URL      string `json:"url,omitempty"`
	Up       bool   `json:"up"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if filepath.Ext(path) == "" {
		path += ".transitions.jsonl"
	}

	recent, err := replayTail(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, file: f, recent: recent}, nil
}

func replayTail(path string) ([]Transition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Transition
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r transitionRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// Tolerate a torn last line from a crashed process.
			continue
		}
		out = append(out, Transition{
			At:       time.UnixMilli(r.At),
			Plugin:   r.Plugin,
			Endpoint: r.Endpoint,
			URL:      r.URL,
			Up:       r.Up,
		})
		if len(out) > recentKeep {
			out = out[len(out)-recentKeep:]
		}
	}
	return out, sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *fileStore) AppendTransition(ctx context.Context, t Transition) error {
	_ = ctx
	if t.At.IsZero() {
		t.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("transition log closed")
	}
	rec := transitionRecord{
		At:       t.At.UnixMilli(),
		Plugin:   t.Plugin,
		Endpoint: t.Endpoint,
		URL:      t.URL,
		Up:       t.Up,
	}
	if err := json.NewEncoder(s.file).Encode(rec); err != nil {
		return err
	}
	s.recent = append(s.recent, t)
	if len(s.recent) > recentKeep {
		s.recent = s.recent[len(s.recent)-recentKeep:]
	}
	return nil
}

func (s *fileStore) RecentTransitions(ctx context.Context, plugin string, limit int) ([]Transition, error) {
	_ = ctx
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		t := s.recent[i]
		if plugin != "" && t.Plugin != plugin {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

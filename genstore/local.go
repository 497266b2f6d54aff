package genstore

import (
	"context"
	"sync"
	"time"
)

type localGen struct {
	gen    uint64
	bumped time.Time
}

// LocalGenStore keeps generations in-process. When both cleanupInterval and
// retention are positive, a background loop forgets keys idle longer than
// retention; a forgotten key reads as 0 again, which readers see as a change.
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]localGen

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{gens: make(map[string]localGen)}
	if cleanupInterval > 0 && retention > 0 {
		s.stop = make(chan struct{})
		s.wg.Add(1)
		go s.sweep(cleanupInterval, retention)
	}
	return s
}

func (s *LocalGenStore) sweep(every, retention time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup(retention)
		case <-s.stop:
			return
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, key string) (uint64, error) {
	s.mu.RLock()
	g := s.gens[key].gen
	s.mu.RUnlock()
	return g, nil
}

// SnapshotMany reads every key under a single read lock.
func (s *LocalGenStore) SnapshotMany(_ context.Context, keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	s.mu.RLock()
	for _, k := range keys {
		out[k] = s.gens[k].gen
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, key string) (uint64, error) {
	now := time.Now()
	s.mu.Lock()
	g := s.gens[key]
	g.gen++
	g.bumped = now
	s.gens[key] = g
	s.mu.Unlock()
	return g.gen, nil
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	s.mu.Lock()
	for k, g := range s.gens {
		if g.bumped.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

func (s *LocalGenStore) Close(context.Context) error {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
			s.wg.Wait()
		}
	})
	return nil
}

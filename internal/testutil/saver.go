package testutil

import (
	"errors"
	"sync"

	"rex-go/internal/browse"
)

var errFailPut = errors.New("scripted store failure")

// MemSaver records registry saves in memory.
type MemSaver struct {
	mu    sync.Mutex
	Saved [][]*browse.Repository
	Err   error
}

var _ browse.RegistrySaver = (*MemSaver)(nil)

func (s *MemSaver) Save(repos []*browse.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Saved = append(s.Saved, append([]*browse.Repository(nil), repos...))
	return nil
}

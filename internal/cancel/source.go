package cancel

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source hands out tokens and keeps exactly one of them live.
type Source struct {
	mu      sync.Mutex
	dir     string
	poll    time.Duration
	live    *Token
	retired map[string]*Token
}

// NewSource returns a Source. When dir is empty tokens are in-process only;
// otherwise their marker files are placed in dir.
func NewSource(dir string, poll time.Duration) *Source {
	return &Source{
		dir:     dir,
		poll:    poll,
		retired: make(map[string]*Token),
	}
}

// Next cancels the live token, if any, and returns a fresh live one. The
// previous token is cancelled before Next returns, so it is never observed
// live after the new one exists.
func (s *Source) Next() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live != nil {
		s.live.Cancel()
		if s.live.released {
			s.live.cleanup()
		} else {
			s.retired[s.live.id] = s.live
		}
	}
	id := uuid.NewString()
	marker := ""
	if s.dir != "" {
		marker = filepath.Join(s.dir, "checkpool-cancel-"+id)
	}
	s.live = newToken(id, marker, s.poll)
	return s.live
}

// IsLive reports whether id names the live token.
func (s *Source) IsLive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live != nil && s.live.id == id && !s.live.cancelled.Load()
}

// Live returns the live token or nil.
func (s *Source) Live() *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Release is called once nobody can still be working on tok. A retired
// token's marker file is removed at once; the live token's when it is
// retired.
func (s *Source) Release(tok *Token) {
	if tok == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.retired[tok.id]; ok {
		delete(s.retired, tok.id)
		tok.cleanup()
		return
	}
	if tok == s.live {
		tok.released = true
	}
}

// Close cancels the live token and removes every marker file.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live != nil {
		s.live.Cancel()
		s.live.cleanup()
		s.live = nil
	}
	for id, tok := range s.retired {
		tok.cleanup()
		delete(s.retired, id)
	}
}

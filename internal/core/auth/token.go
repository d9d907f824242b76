// Package auth provides token lookup for the API client and change
// notifications when the user logs in or out. Tokens are issued elsewhere;
// this package only reads them.
package auth

import (
	"os"
	"strings"
	"sync"
)

// FileTokenSource reads a bearer token from a file on disk. An absent or
// empty file means logged out. The value is cached and refreshed by the
// watcher, so Token stays cheap on the request path.
type FileTokenSource struct {
	path string

	mu    sync.RWMutex
	token string
}

func NewFileTokenSource(path string) *FileTokenSource {
	s := &FileTokenSource{path: path}
	s.Reload()
	return s
}

// Token implements api.TokenSource.
func (s *FileTokenSource) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Path returns the watched token file location.
func (s *FileTokenSource) Path() string { return s.path }

// Reload re-reads the token file and reports whether the authenticated state
// flipped.
func (s *FileTokenSource) Reload() (changed bool) {
	token := ""
	if b, err := os.ReadFile(s.path); err == nil {
		token = strings.TrimSpace(string(b))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wasAuthed := s.token != ""
	s.token = token
	return wasAuthed != (token != "")
}

// StaticTokenSource returns a fixed token, used by tests and the --token
// flag.
type StaticTokenSource string

func (s StaticTokenSource) Token() (string, bool) { return string(s), s != "" }

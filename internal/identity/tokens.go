package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenStore persists the device's credential between runs. LoadToken
// returns "" when nothing is stored.
type TokenStore interface {
	LoadToken() (string, error)
	SaveToken(token string) error
	ClearToken() error
}

// FileTokens keeps the credential in a single file readable only by the
// current user.
type FileTokens struct {
	path string
}

func NewFileTokens(path string) *FileTokens {
	return &FileTokens{path: path}
}

func (f *FileTokens) LoadToken() (string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (f *FileTokens) SaveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return nil
}

func (f *FileTokens) ClearToken() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

// MemoryTokens holds the credential for one connection. The gateway seeds it
// with whatever the browser sent and reads it back after entry.
type MemoryTokens struct {
	mu    sync.Mutex
	token string
}

func NewMemoryTokens(initial string) *MemoryTokens {
	return &MemoryTokens{token: strings.TrimSpace(initial)}
}

func (m *MemoryTokens) LoadToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokens) SaveToken(token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokens) ClearToken() error {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	return nil
}

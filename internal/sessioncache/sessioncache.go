// Package sessioncache remembers the last entry form on this device. It only
// prefills the form and is never consulted for identity or secret checks.
package sessioncache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Entry struct {
	DisplayName  string `json:"displayName"`
	PracticeCode string `json:"practiceCode"`
	Role         string `json:"role"`
}

// Prefill reports whether the entry is complete enough to fill the form.
func (e Entry) Prefill() bool {
	return strings.TrimSpace(e.PracticeCode) != "" && strings.TrimSpace(e.DisplayName) != ""
}

// File stores the entry as JSON at a fixed path.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Load returns ok=false when nothing usable is stored.
func (f *File) Load() (Entry, bool, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read session cache: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode session cache: %w", err)
	}
	return entry, entry.Prefill(), nil
}

func (f *File) Save(entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode session cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session cache dir: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("write session cache: %w", err)
	}
	return nil
}

type Memory struct {
	mu    sync.Mutex
	entry *Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load() (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entry == nil {
		return Entry{}, false, nil
	}
	return *m.entry, m.entry.Prefill(), nil
}

func (m *Memory) Save(entry Entry) error {
	m.mu.Lock()
	m.entry = &entry
	m.mu.Unlock()
	return nil
}

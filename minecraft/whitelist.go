package minecraft

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrAlreadyWhitelisted = errors.New("user already whitelisted")
	ErrNotWhitelisted     = errors.New("user is not whitelisted")
	ErrInvalidUUID        = errors.New("invalid player uuid")
)

// WhitelistEntry mirrors one element of whitelist.json
type WhitelistEntry struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

// Whitelist holds whitelist.json in memory. Entries are unique by uuid.
type Whitelist struct {
	path    string
	mu      sync.RWMutex
	entries []WhitelistEntry
}

// LoadWhitelist reads path. A missing or unparsable file yields an empty list
// so a corrupt file never blocks the panel.
func LoadWhitelist(path string) *Whitelist {
	w := &Whitelist{path: path}
	w.Reload()
	return w
}

// Reload re-reads the file. It reports whether the file parsed.
func (w *Whitelist) Reload() bool {
	entries := []WhitelistEntry{}
	ok := true

	data, err := os.ReadFile(w.path)
	if err == nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			entries = []WhitelistEntry{}
			ok = false
		}
	} else if !os.IsNotExist(err) {
		ok = false
	}

	w.mu.Lock()
	w.entries = entries
	w.mu.Unlock()
	return ok
}

func (w *Whitelist) Path() string {
	return w.path
}

func (w *Whitelist) Entries() []WhitelistEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]WhitelistEntry{}, w.entries...)
}

func normalizeUUID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidUUID, id)
	}
	return parsed.String(), nil
}

func sameUUID(a, b string) bool {
	pa, errA := uuid.Parse(a)
	pb, errB := uuid.Parse(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return pa == pb
}

// Add appends an entry and saves. Duplicate uuids are rejected before insert.
func (w *Whitelist) Add(name, id string) (WhitelistEntry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return WhitelistEntry{}, ErrEmptyPlayerName
	}
	normalized, err := normalizeUUID(id)
	if err != nil {
		return WhitelistEntry{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range w.entries {
		if sameUUID(e.UUID, normalized) {
			return WhitelistEntry{}, ErrAlreadyWhitelisted
		}
	}

	entry := WhitelistEntry{UUID: normalized, Name: name}
	w.entries = append(w.entries, entry)
	if err := w.saveLocked(); err != nil {
		w.entries = w.entries[:len(w.entries)-1]
		return WhitelistEntry{}, err
	}
	return entry, nil
}

// RemoveAt deletes the entry at index i and saves
func (w *Whitelist) RemoveAt(i int) (WhitelistEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i < 0 || i >= len(w.entries) {
		return WhitelistEntry{}, fmt.Errorf("%w: index %d", ErrNotWhitelisted, i)
	}
	return w.removeLocked(i)
}

// RemoveUUID deletes the entry with the given uuid and saves
func (w *Whitelist) RemoveUUID(id string) (WhitelistEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, e := range w.entries {
		if sameUUID(e.UUID, id) {
			return w.removeLocked(i)
		}
	}
	return WhitelistEntry{}, fmt.Errorf("%w: %s", ErrNotWhitelisted, id)
}

func (w *Whitelist) removeLocked(i int) (WhitelistEntry, error) {
	prev := w.entries
	removed := prev[i]

	next := make([]WhitelistEntry, 0, len(prev)-1)
	next = append(next, prev[:i]...)
	next = append(next, prev[i+1:]...)
	w.entries = next

	if err := w.saveLocked(); err != nil {
		w.entries = prev
		return WhitelistEntry{}, err
	}
	return removed, nil
}

func (w *Whitelist) Save() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.saveLocked()
}

func (w *Whitelist) saveLocked() error {
	data, err := json.MarshalIndent(w.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal whitelist: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create whitelist directory: %w", err)
	}
	if err := writeFileAtomic(w.path, data, 0644); err != nil {
		return fmt.Errorf("failed to save whitelist: %w", err)
	}
	return nil
}

package minecraft

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Properties is an in-memory view of a server.properties file. Saving keeps
// every existing line where it was and appends keys the file did not have.
type Properties struct {
	path   string
	mu     sync.RWMutex
	values map[string]string
	order  []string
}

func NewProperties(path string) *Properties {
	return &Properties{
		path:   path,
		values: make(map[string]string),
	}
}

// LoadProperties reads path. A missing file yields an empty map.
func LoadProperties(path string) (*Properties, error) {
	p := NewProperties(path)
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload replaces the in-memory map with the file's current contents
func (p *Properties) Reload() error {
	values := make(map[string]string)
	var order []string

	data, err := os.ReadFile(p.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read properties file: %w", err)
	}

	for _, line := range splitLines(string(data)) {
		key, value, ok := parsePropertyLine(line)
		if !ok {
			continue
		}
		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = value
	}

	p.mu.Lock()
	p.values = values
	p.order = order
	p.mu.Unlock()
	return nil
}

func parsePropertyLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

// lineKey returns the key a raw file line assigns, if any
func lineKey(line string) (string, bool) {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return "", false
	}
	key, _, found := strings.Cut(line, "=")
	if !found {
		return "", false
	}
	return strings.TrimSpace(key), true
}

// splitLines splits keeping each line's terminator
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (p *Properties) Path() string {
	return p.path
}

func (p *Properties) Get(key, def string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.values[key]; ok {
		return v
	}
	return def
}

func (p *Properties) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, "=\r\n") || strings.HasPrefix(key, "#") {
		return fmt.Errorf("invalid property key %q", key)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("property %s: value must be a single line", key)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; !ok {
		p.order = append(p.order, key)
	}
	p.values[key] = value
	return nil
}

// Keys returns keys in first-seen order
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// Map returns a copy of all values
func (p *Properties) Map() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Save writes the map back over the file's current lines
func (p *Properties) Save() error {
	data, err := os.ReadFile(p.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read properties file: %w", err)
	}

	p.mu.RLock()
	content := mergeProperties(string(data), p.values, p.order)
	p.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return fmt.Errorf("failed to create properties directory: %w", err)
	}
	return writeFileAtomic(p.path, []byte(content), 0644)
}

// mergeProperties rewrites the last line holding each known key and appends
// the rest in order
func mergeProperties(existing string, values map[string]string, order []string) string {
	lines := splitLines(existing)

	keyLine := make(map[string]int)
	for i, line := range lines {
		if key, ok := lineKey(line); ok {
			keyLine[key] = i
		}
	}

	var appended []string
	for _, key := range orderedKeys(values, order) {
		entry := key + "=" + values[key] + "\n"
		if i, ok := keyLine[key]; ok {
			lines[i] = entry
		} else {
			appended = append(appended, entry)
		}
	}

	if len(appended) > 0 && len(lines) > 0 && !strings.HasSuffix(lines[len(lines)-1], "\n") {
		lines[len(lines)-1] += "\n"
	}
	lines = append(lines, appended...)
	return strings.Join(lines, "")
}

// orderedKeys yields keys in insertion order, falling back to sorted order
// for any key missing from order
func orderedKeys(values map[string]string, order []string) []string {
	keys := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, k := range order {
		if _, ok := values[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// writeFileAtomic writes through a temp file and rename
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

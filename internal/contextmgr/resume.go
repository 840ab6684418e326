package contextmgr

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// SaveTranscript writes the transcript to path as JSON-lines, one Item per
// line, oldest first, so a "resume" subcommand can reattach to a previous
// session by loading the file back into a fresh Manager.
func (m *Manager) SaveTranscript(path string) error {
	m.mu.Lock()
	items := make([]Item, len(m.items))
	copy(items, m.items)
	m.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create transcript file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode transcript item: %w", err)
		}
	}
	return w.Flush()
}

// LoadTranscript replaces the transcript's contents with the items read from
// path (JSON-lines, oldest first). It does not normalize on load; the next
// call to GetHistory will.
func LoadTranscript(path string) (*Manager, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	defer f.Close()

	m := New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item Item
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, fmt.Errorf("decode transcript item: %w", err)
		}
		m.items = append(m.items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript file: %w", err)
	}
	return m, nil
}

package inistore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// Store is a concurrency-safe key/value namespace persisted to one INI file.
// A Store may be shared freely between goroutines; cross-process safety
// comes from the advisory file lock taken around every read and write.
type Store struct {
	path     string
	lockPath string
}

// New creates a Store for the INI file at path. The file does not need to
// exist; Get on a missing file reports absence and Set creates it along
// with any missing parent directories.
func New(path string) *Store {
	return &Store{
		path:     path,
		lockPath: path + ".lock",
	}
}

// Path returns the path of the underlying INI file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key in section, re-reading the file under a
// shared lock. The second return value reports whether the key was present.
func (s *Store) Get(section, key string) (string, bool, error) {
	f, err := s.readLocked()
	if err != nil {
		return "", false, err
	}
	sec := f.section(section)
	if sec == nil {
		return "", false, nil
	}
	v, ok := sec.values[key]
	return v, ok, nil
}

// GetSection returns all keys of section, or ok=false when the section is
// absent.
func (s *Store) GetSection(section string) (map[string]string, bool, error) {
	f, err := s.readLocked()
	if err != nil {
		return nil, false, err
	}
	sec := f.section(section)
	if sec == nil {
		return nil, false, nil
	}
	out := make(map[string]string, len(sec.values))
	for k, v := range sec.values {
		out[k] = v
	}
	return out, true, nil
}

// Set writes value under section/key. It acquires an exclusive lock,
// re-reads the file, applies the mutation, and replaces the file
// atomically. The last writer wins at section granularity.
func (s *Store) Set(section, key, value string) error {
	return s.mutate(func(f *iniFile) {
		f.ensureSection(section).set(key, value)
	})
}

// RemoveSection deletes an entire section. Removing an absent section is
// not an error.
func (s *Store) RemoveSection(section string) error {
	return s.mutate(func(f *iniFile) {
		f.removeSection(section)
	})
}

// readLocked reads and parses the file under a shared lock.
func (s *Store) readLocked() (*iniFile, error) {
	lock := flock.New(s.lockPath)
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", s.lockPath, err)
	}
	defer lock.Unlock()

	return s.read()
}

// read parses the file without locking. Callers hold the lock.
func (s *Store) read() (*iniFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &iniFile{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return parseINI(string(data)), nil
}

// mutate runs fn against the current file contents under an exclusive lock
// and writes the result back atomically.
func (s *Store) mutate(fn func(*iniFile)) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	lock := flock.New(s.lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock %s: %w", s.lockPath, err)
	}
	defer lock.Unlock()

	f, err := s.read()
	if err != nil {
		return err
	}
	fn(f)
	return s.writeAtomic(f.serialize())
}

// writeAtomic replaces the INI file via write-to-temp plus rename so
// concurrent readers never see a partial write.
func (s *Store) writeAtomic(content string) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".aicm-ini-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// iniFile is an order-preserving in-memory INI document.
type iniFile struct {
	sections []*iniSection
}

type iniSection struct {
	name   string
	keys   []string
	values map[string]string
}

func (f *iniFile) section(name string) *iniSection {
	for _, s := range f.sections {
		if s.name == name {
			return s
		}
	}
	return nil
}

func (f *iniFile) ensureSection(name string) *iniSection {
	if s := f.section(name); s != nil {
		return s
	}
	s := &iniSection{name: name, values: make(map[string]string)}
	f.sections = append(f.sections, s)
	return s
}

func (f *iniFile) removeSection(name string) {
	for i, s := range f.sections {
		if s.name == name {
			f.sections = append(f.sections[:i], f.sections[i+1:]...)
			return
		}
	}
}

func (s *iniSection) set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// parseINI parses classic INI text: [section] headers, key = value lines,
// and ; or # comments. Malformed lines are skipped.
func parseINI(content string) *iniFile {
	f := &iniFile{}
	var current *iniSection

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name != "" {
				current = f.ensureSection(name)
			}
			continue
		}
		if current == nil {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key != "" {
			current.set(key, value)
		}
	}
	return f
}

// serialize renders the document back to INI text, preserving section and
// key order so other implementations sharing the file see stable diffs.
func (f *iniFile) serialize() string {
	var b strings.Builder
	for i, sec := range f.sections {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s]\n", sec.name)
		for _, k := range sec.keys {
			fmt.Fprintf(&b, "%s = %s\n", k, sec.values[k])
		}
	}
	return b.String()
}

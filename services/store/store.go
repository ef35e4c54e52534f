// Package store persists the node's credentials as a small KEY=value file.
package store

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"

	"weatherstation-go/errcode"
)

// Keys in use.
const (
	KeySecret = "influx_secret"
	KeySSID   = "wifi_ssid"
	KeyPass   = "wifi_pass"
)

// Store is the key-value collaborator used by the connectivity manager.
type Store interface {
	Exists(key string) bool
	Load(key string) (string, error)
	Save(key, value string) error
}

// File keeps every key in one dotenv-formatted file. Each call re-reads the
// file; nothing is cached.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File { return &File{path: path} }

func (f *File) Path() string { return f.path }

// Begin makes sure the file exists and is readable.
func (f *File) Begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path == "" {
		return &errcode.E{C: errcode.InvalidConfig, Op: "store.begin", Msg: "no path"}
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return errcode.Wrap(errcode.SetupFailed, "store.begin", err)
	}
	if _, err := os.Stat(f.path); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(f.path, nil, 0o600); err != nil {
			return errcode.Wrap(errcode.SetupFailed, "store.begin", err)
		}
	}
	if _, err := godotenv.Read(f.path); err != nil {
		return errcode.Wrap(errcode.SetupFailed, "store.begin", err)
	}
	return nil
}

func (f *File) read() (map[string]string, error) {
	m, err := godotenv.Read(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	return m, err
}

func (f *File) Exists(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

func (f *File) Load(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return "", errcode.Wrap(errcode.Error, "store.load", err)
	}
	v, ok := m[key]
	if !ok {
		return "", errcode.NotFound
	}
	return v, nil
}

// Save rewrites the whole file with key set to value.
func (f *File) Save(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.read()
	if err != nil {
		return errcode.Wrap(errcode.Error, "store.save", err)
	}
	m[key] = value
	if err := godotenv.Write(m, f.path); err != nil {
		return errcode.Wrap(errcode.Error, "store.save", err)
	}
	return os.Chmod(f.path, 0o600)
}

// Memory is a process-local Store.
type Memory struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemory(seed map[string]string) *Memory {
	m := make(map[string]string, len(seed))
	for k, v := range seed {
		m[k] = v
	}
	return &Memory{m: m}
}

func (s *Memory) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok
}

func (s *Memory) Load(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return "", errcode.NotFound
	}
	return v, nil
}

func (s *Memory) Save(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

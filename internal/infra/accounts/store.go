// Package accounts keeps account key/value bags in a YAML file.
package accounts

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"syncq/internal/domain"
	"syncq/internal/ports"

	"gopkg.in/yaml.v3"
)

var _ ports.AccountStore = (*Store)(nil)

type file struct {
	Accounts map[string]map[string]string `yaml:"accounts"`
}

// Store is an AccountStore backed by a YAML file. Every change is written
// through to disk before it returns.
type Store struct {
	path string

	mu       sync.RWMutex
	accounts map[string]map[string]string
}

// Open reads the accounts file at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, accounts: map[string]map[string]string{}}
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("parse accounts %s: %w", path, err)
	}
	for name, data := range f.Accounts {
		if data == nil {
			data = map[string]string{}
		}
		s.accounts[name] = data
	}
	return s, nil
}

func (s *Store) Get(name string) (domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.accounts[name]
	if !ok {
		return domain.Account{}, false
	}
	return domain.Account{Name: name, Data: maps.Clone(data)}, true
}

// List returns all accounts ordered by name, including deleted ones.
func (s *Store) List() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := slices.Sorted(maps.Keys(s.accounts))
	out := make([]domain.Account, 0, len(names))
	for _, name := range names {
		out = append(out, domain.Account{Name: name, Data: maps.Clone(s.accounts[name])})
	}
	return out
}

// Set stores one key of an account, creating the account when needed.
// An empty value removes the key.
func (s *Store) Set(name, key, value string) error {
	if name == "" {
		return errors.New("account name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.accounts[name]
	if !ok {
		data = map[string]string{}
		s.accounts[name] = data
	}
	if value == "" {
		delete(data, key)
	} else {
		data[key] = value
	}
	return s.writeLocked()
}

// Remove marks the account deleted; its data stays readable.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.accounts[name]
	if !ok {
		return fmt.Errorf("account %s: %w", name, domain.ErrNotFound)
	}
	data[domain.AccountKeyDeleted] = "true"
	return s.writeLocked()
}

func (s *Store) writeLocked() error {
	content, err := yaml.Marshal(file{Accounts: s.accounts})
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	return atomicWrite(s.path, content)
}

// atomicWrite replaces path through a temp file in the same directory.
func atomicWrite(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".accounts-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

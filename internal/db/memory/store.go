// Package memory is an in-process db.Store used for local runs and tests.
// It mirrors the Redis driver's semantics: missing hashes read as empty
// maps, missing strings return db.ErrKeyNotFound.
package memory

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rfpdesk/docvault/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store keeps every key family in its own map behind one RWMutex.
type Store struct {
	mu      sync.RWMutex
	hashes  map[string]map[string]string
	strings map[string][]byte
	lists   map[string][][]byte
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		hashes:  map[string]map[string]string{},
		strings: map[string][]byte{},
		lists:   map[string][][]byte{},
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(context.Context, time.Duration) error { return nil }

// HSet sets hash fields.
func (s *Store) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

// HSetIfEqual sets field to value only while it still holds expected.
func (s *Store) HSetIfEqual(_ context.Context, key, field, expected, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if cur := h[field]; cur != expected {
		return false, nil
	}
	if !ok {
		h = map[string]string{}
		s.hashes[key] = h
	}
	h[field] = value
	return true, nil
}

// HGetAll returns a copy of the hash, empty when missing.
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHash(s.hashes[key]), nil
}

// HGetAllMulti returns copies of several hashes.
func (s *Store) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = cloneHash(s.hashes[k])
	}
	return out, nil
}

// Del removes a key of any family.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hashes, key)
	delete(s.strings, key)
	delete(s.lists, key)
	return nil
}

// Exists reports whether a key of any family exists.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(key), nil
}

func (s *Store) existsLocked(key string) bool {
	if _, ok := s.hashes[key]; ok {
		return true
	}
	if _, ok := s.strings[key]; ok {
		return true
	}
	_, ok := s.lists[key]
	return ok
}

// Scan returns keys matching a glob pattern, sorted.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	add := func(k string) error {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return &db.Error{Op: db.OpScan, Err: err}
		}
		if ok {
			keys = append(keys, k)
		}
		return nil
	}
	for k := range s.hashes {
		if err := add(k); err != nil {
			return nil, err
		}
	}
	for k := range s.strings {
		if err := add(k); err != nil {
			return nil, err
		}
	}
	for k := range s.lists {
		if err := add(k); err != nil {
			return nil, err
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Get retrieves a value by key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.strings[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

// MGet returns values in key order with nil for missing keys.
func (s *Store) MGet(_ context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, ok := s.strings[k]; ok {
			out[i] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

// Set stores a value.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = append([]byte(nil), value...)
	return nil
}

// SetNX stores a value only when the key is absent.
func (s *Store) SetNX(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strings[key]; ok {
		return db.ErrKeyExists
	}
	s.strings[key] = append([]byte(nil), value...)
	return nil
}

// IncrBy increments an integer string value.
func (s *Store) IncrBy(_ context.Context, key string, val int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur int64
	if v, ok := s.strings[key]; ok {
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, &db.Error{Op: db.OpIncrBy, Err: fmt.Errorf("value is not an integer")}
		}
		cur = n
	}
	cur += val
	s.strings[key] = []byte(strconv.FormatInt(cur, 10))
	return cur, nil
}

// RPush appends values to a list.
func (s *Store) RPush(_ context.Context, key string, values ...[]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range values {
		s.lists[key] = append(s.lists[key], append([]byte(nil), v...))
	}
	return int64(len(s.lists[key])), nil
}

// LRange returns elements between start and stop inclusive.
func (s *Store) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := s.lists[key]
	from, to, ok := bounds(int64(len(l)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, to-from+1)
	for _, v := range l[from : to+1] {
		out = append(out, append([]byte(nil), v...))
	}
	return out, nil
}

// LTrim keeps elements between start and stop inclusive.
func (s *Store) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key]
	from, to, ok := bounds(int64(len(l)), start, stop)
	if !ok {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = append([][]byte(nil), l[from:to+1]...)
	return nil
}

// bounds normalizes Redis-style inclusive indexes against length n.
func bounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return 0, 0, false
	}
	return start, stop, true
}

func cloneHash(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

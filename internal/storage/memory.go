package storage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Memory keeps objects in process. Presigned URLs use the memory:// scheme
// and are not servable; they exist so local runs exercise the full flow.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
	now     func() time.Time
}

// NewMemory creates an empty in-process object store.
func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}, now: time.Now}
}

// Put stores a copy of data.
func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the stored object.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return append([]byte(nil), data...), nil
}

// PresignGet returns a memory:// URL carrying the expiry.
func (m *Memory) PresignGet(_ context.Context, key, filename string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	q := url.Values{}
	q.Set("expires", m.now().Add(ttl).UTC().Format(time.RFC3339))
	if filename != "" {
		q.Set("response-content-disposition", ContentDisposition(filename))
	}
	u := url.URL{Scheme: "memory", Host: "objects", Path: "/" + key, RawQuery: q.Encode()}
	return u.String(), nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

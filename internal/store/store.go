// Package store keeps the small amount of client state that survives a page
// reload: the active chat id and the visitor's name and email.
package store

import (
	"context"
	"sync"
)

// Keys written by the session store.
const (
	KeyChatID    = "widget_chat_id"
	KeyUserName  = "widget_chat_user_name"
	KeyUserEmail = "widget_chat_user_email"
)

// Storage is a string key/value store scoped to one browser.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// MemoryStorage implements Storage in memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Visitors hands out the Storage of one browser.
type Visitors interface {
	ForVisitor(visitorID string) Storage
}

// MemoryVisitors keeps one MemoryStorage per visitor for the life of the
// process.
type MemoryVisitors struct {
	mu       sync.Mutex
	visitors map[string]*MemoryStorage
}

// NewMemoryVisitors returns an empty MemoryVisitors.
func NewMemoryVisitors() *MemoryVisitors {
	return &MemoryVisitors{visitors: make(map[string]*MemoryStorage)}
}

func (v *MemoryVisitors) ForVisitor(visitorID string) Storage {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.visitors[visitorID]
	if !ok {
		s = NewMemoryStorage()
		v.visitors[visitorID] = s
	}
	return s
}

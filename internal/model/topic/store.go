package topic

import "sync"

// Store exposes the topic catalog of each chatbot to HTTP handlers.
type Store interface {
	Catalog(chatbotID string) Catalog
}

// MemoryStore implements Store with one shared catalog, suitable for local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	items Catalog
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied catalog.
func NewMemoryStore(items Catalog) *MemoryStore {
	return &MemoryStore{items: append(Catalog(nil), items...)}
}

// Catalog returns a copy of the catalog. Every chatbot shares it.
func (s *MemoryStore) Catalog(string) Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(Catalog{}, s.items...)
}

// Replace swaps the served catalog.
func (s *MemoryStore) Replace(items Catalog) {
	s.mu.Lock()
	s.items = append(Catalog(nil), items...)
	s.mu.Unlock()
}

package persona

// Store exposes persona retrieval for HTTP handlers and prompt building.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the predefined persona list.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Default returns the built-in assistant, falling back to the first entry.
func Default(store Store) Persona {
	if store == nil {
		return Seed()[0]
	}
	if p, ok := store.FindByID(DefaultID); ok {
		return p
	}
	if items := store.List(); len(items) > 0 {
		return items[0]
	}
	return Seed()[0]
}

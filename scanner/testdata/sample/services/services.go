package services

import "strings"

type (
	Store interface {
		Get(key string) string
	}

	MemoryStore struct {
		values map[string]string
	}

	Greeter struct {
		store  Store
		prefix string
	}

	upperStore struct {
		Store
	}
)

func (m *MemoryStore) Get(key string) string {
	return m.values[key]
}

// NewMemoryStore builds an in-memory store.
// @provider named="memory" reuse="singleton"
func NewMemoryStore() Store {
	return &MemoryStore{values: map[string]string{"greeting": "hello"}}
}

// NewGreeter greets people.
// It reads the greeting from the store.
// @provider
// @when named="GREETER_ENABLED" equals="true"
func NewGreeter(
	store Store, // @inject named="memory"
	prefix string, // @inject named="GREETER_PREFIX" optional=true
) *Greeter {
	return &Greeter{store: store, prefix: prefix}
}

func (g *Greeter) Greet(name string) string {
	return g.prefix + g.store.Get("greeting") + " " + name
}

// UpperStore shouts.
// @decorator named="memory" priority=10
func UpperStore(store Store) Store {
	return upperStore{store}
}

func (u upperStore) Get(key string) string {
	return strings.ToUpper(u.Store.Get(key))
}

// notAnnotated is ignored.
func notAnnotated() Store {
	return nil
}

package artifact

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
)

type object struct {
	data        []byte
	contentType string
}

// InMemoryStore is an in-process core.ArtifactStore for tests and single
// process deployments. Data is copied on save and on retrieval.
//
// Layout: prefix -> name -> object, where key = prefix + "/" + name.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]map[string]object
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]map[string]object)}
}

func splitKey(key string) (string, string) {
	key = strings.Trim(key, "/")
	dir, name := path.Split(key)
	return strings.TrimSuffix(dir, "/"), name
}

// Save stores (or overwrites) the artifact under key.
func (a *InMemoryStore) Save(_ context.Context, key string, data []byte, contentType string) error {
	prefix, name := splitKey(key)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.objects[prefix]; !exists {
		a.objects[prefix] = make(map[string]object)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	a.objects[prefix][name] = object{data: cp, contentType: contentType}
	return nil
}

func (a *InMemoryStore) lookup(key string) (object, error) {
	prefix, name := splitKey(key)
	a.mu.RLock()
	defer a.mu.RUnlock()
	obj, ok := a.objects[prefix][name]
	if !ok {
		return object{}, ErrNotFound
	}
	return obj, nil
}

// Get returns a copy of the stored bytes or ErrNotFound.
func (a *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	obj, err := a.lookup(key)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

// ContentType returns the content type recorded for key.
func (a *InMemoryStore) ContentType(key string) (string, error) {
	obj, err := a.lookup(key)
	if err != nil {
		return "", err
	}
	return obj.contentType, nil
}

// List returns the sorted names stored under prefix.
func (a *InMemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.Trim(prefix, "/")
	a.mu.RLock()
	defer a.mu.RUnlock()
	m := a.objects[prefix]
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the artifact or returns ErrNotFound.
func (a *InMemoryStore) Delete(_ context.Context, key string) error {
	prefix, name := splitKey(key)
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.objects[prefix]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[name]; !ok {
		return ErrNotFound
	}
	delete(m, name)
	if len(m) == 0 {
		delete(a.objects, prefix)
	}
	return nil
}

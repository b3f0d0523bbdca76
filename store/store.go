package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

// ErrKeyNotFound is returned when a key is not present in the store.
var ErrKeyNotFound = errors.New("key not found")

// ErrTypeMismatch is returned when a stored value cannot be converted to the
// requested type.
var ErrTypeMismatch = errors.New("type mismatch")

// Metadata holds descriptive information attached to a stored value.
type Metadata struct {
	// Description provides details about the entry.
	Description string
	// Tags for organization and filtering.
	Tags []string
	// Properties are arbitrary key-value attributes, such as a status.
	Properties map[string]interface{}
	// CreatedAt is when the entry was first stored.
	CreatedAt time.Time
	// UpdatedAt is when the entry was last written.
	UpdatedAt time.Time
}

// NewMetadata creates empty metadata with creation timestamps set.
func NewMetadata() *Metadata {
	now := time.Now()
	return &Metadata{
		Tags:       []string{},
		Properties: make(map[string]interface{}),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AddTag adds a tag if it doesn't already exist.
func (m *Metadata) AddTag(tag string) {
	for _, t := range m.Tags {
		if t == tag {
			return
		}
	}
	m.Tags = append(m.Tags, tag)
}

// HasTag checks if the metadata carries a specific tag.
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SetProperty sets an arbitrary property on the metadata.
func (m *Metadata) SetProperty(key string, value interface{}) {
	if m.Properties == nil {
		m.Properties = make(map[string]interface{})
	}
	m.Properties[key] = value
}

// GetProperty returns a property value and whether it exists.
func (m *Metadata) GetProperty(key string) (interface{}, bool) {
	if m.Properties == nil {
		return nil, false
	}
	v, ok := m.Properties[key]
	return v, ok
}

type entry struct {
	typ      reflect.Type
	value    interface{}
	metadata *Metadata
}

// KVStore is a threadsafe, type-aware in-memory store.
type KVStore struct {
	mu   sync.RWMutex
	data map[string]entry
}

// NewKVStore constructs an empty store.
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string]entry)}
}

// Put stores any Go value under key, capturing its concrete type.
func (s *KVStore) Put(key string, value interface{}) error {
	return s.PutWithMetadata(key, value, nil)
}

// PutWithMetadata stores a value along with its metadata. If metadata is nil
// and the key already exists, the existing metadata is preserved and its
// UpdatedAt timestamp refreshed.
func (s *KVStore) PutWithMetadata(key string, value interface{}, metadata *Metadata) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}

	var t reflect.Type
	if value != nil {
		t = reflect.TypeOf(value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := metadata
	if meta == nil {
		if existing, exists := s.data[key]; exists && existing.metadata != nil {
			meta = existing.metadata
			meta.UpdatedAt = time.Now()
		}
	}

	s.data[key] = entry{typ: t, value: value, metadata: meta}
	return nil
}

// Get retrieves a value of type T for the given key.
func Get[T any](s *KVStore, key string) (T, error) {
	var zero T

	s.mu.RLock()
	e, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return zero, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	v, ok := e.value.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T cannot be converted to %v",
			ErrTypeMismatch, e.value, reflect.TypeOf(zero))
	}
	return v, nil
}

// GetOrDefault retrieves a value of type T for the given key.
// If the key is missing, the default value is returned instead of an error.
func GetOrDefault[T any](s *KVStore, key string, defaultValue T) T {
	v, err := Get[T](s, key)
	if err != nil {
		return defaultValue
	}
	return v
}

// Delete removes a key from the store. Returns true if the key existed.
func (s *KVStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.data[key]
	delete(s.data, key)
	return exists
}

// Clear removes all entries from the store.
func (s *KVStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]entry)
}

// ListKeys returns all keys in the store in sorted order.
func (s *KVStore) ListKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Count returns the number of entries in the store.
func (s *KVStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// GetMetadata returns the metadata for a key.
func (s *KVStore) GetMetadata(key string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.metadata == nil {
		return nil, fmt.Errorf("no metadata for key: %s", key)
	}
	return e.metadata, nil
}

// AddTag adds a tag to the metadata of an existing key, creating metadata if
// the entry has none yet.
func (s *KVStore) AddTag(key, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.metadata == nil {
		e.metadata = NewMetadata()
	}
	e.metadata.AddTag(tag)
	e.metadata.UpdatedAt = time.Now()
	s.data[key] = e
	return nil
}

// HasTag checks if a key's metadata carries a specific tag.
func (s *KVStore) HasTag(key, tag string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[key]
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.metadata == nil {
		return false, nil
	}
	return e.metadata.HasTag(tag), nil
}

// FindKeysByTag returns all keys whose metadata carries the given tag.
func (s *KVStore) FindKeysByTag(tag string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.data {
		if e.metadata != nil && e.metadata.HasTag(tag) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// SetProperty sets a metadata property on an existing key, creating metadata
// if the entry has none yet.
func (s *KVStore) SetProperty(key, propertyKey string, propertyValue interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.metadata == nil {
		e.metadata = NewMetadata()
	}
	e.metadata.SetProperty(propertyKey, propertyValue)
	e.metadata.UpdatedAt = time.Now()
	s.data[key] = e
	return nil
}

// GetProperty returns a metadata property for a key.
func (s *KVStore) GetProperty(key, propertyKey string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.metadata == nil {
		return nil, fmt.Errorf("no metadata for key: %s", key)
	}
	v, ok := e.metadata.GetProperty(propertyKey)
	if !ok {
		return nil, fmt.Errorf("property %s not found on key: %s", propertyKey, key)
	}
	return v, nil
}

// FindKeysByProperty returns all keys whose metadata has the given property
// set to the given value.
func (s *KVStore) FindKeysByProperty(propertyKey string, propertyValue interface{}) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.data {
		if e.metadata == nil {
			continue
		}
		if v, ok := e.metadata.GetProperty(propertyKey); ok && reflect.DeepEqual(v, propertyValue) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// GetTypeSchema returns a JSON schema describing the stored value's type.
func (s *KVStore) GetTypeSchema(key string) (interface{}, error) {
	s.mu.RLock()
	e, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if e.typ == nil {
		return nil, fmt.Errorf("no type information for key: %s", key)
	}
	return TypeToSchema(e.typ), nil
}

// TypeToSchema converts a reflect.Type to a JSON schema.
func TypeToSchema(t reflect.Type) interface{} {
	instance := reflect.New(t).Interface()
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}

	schema := reflector.Reflect(instance)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	if _, exists := schemaMap["type"]; !exists {
		schemaMap["type"] = "object"
	}
	if _, exists := schemaMap["properties"]; !exists {
		schemaMap["properties"] = map[string]interface{}{}
	}

	return schemaMap
}

package sdk

import (
	"sync"

	"github.com/google/uuid"
)

// deviceIDKey is the key under which the device id is persisted in the
// host-supplied store
const deviceIDKey = "devicegate.device_id"

// Store is the key-value persistence the host application provides for the
// device identity. Implementations typically wrap UserDefaults,
// SharedPreferences or a small file.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// MemoryStore is an in-process Store. It does not survive a restart, so the
// device will register as new after every launch; hosts should supply a
// persistent implementation.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// DeviceIdentity holds the stable local device identifier. It is created
// once per install and only changes when the server assigns a different id
// on attach.
type DeviceIdentity struct {
	store Store
	id    string
}

// LoadDeviceIdentity reads the persisted device id from the store, minting
// and persisting a fresh UUID when none exists yet.
func LoadDeviceIdentity(store Store) (*DeviceIdentity, error) {
	id, err := store.Get(deviceIDKey)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
		if err := store.Set(deviceIDKey, id); err != nil {
			return nil, err
		}
	}
	return &DeviceIdentity{store: store, id: id}, nil
}

// ID returns the current device id
func (d *DeviceIdentity) ID() string { return d.id }

// Overwrite replaces the local id with the server-assigned one. The server
// wins: on the first ever attach the assigned id may differ from the local
// guess and must be persisted in its place.
func (d *DeviceIdentity) Overwrite(id string) error {
	if id == "" || id == d.id {
		return nil
	}
	if err := d.store.Set(deviceIDKey, id); err != nil {
		return err
	}
	d.id = id
	return nil
}

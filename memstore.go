package sigtransport

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory reference implementation of the unprocessed-
// cache and preferences subset of the Store contract. It exists for tests
// and for cmd/sigdemo; it is not a production store — a real deployment
// plugs in its own Store backed by durable storage (spec §4.2 [ADD]).
type MemoryStore struct {
	mu          sync.Mutex
	number      string
	deviceID    uint32
	devices     map[string][]uint32
	unprocessed map[string]*UnprocessedItem
	groups      map[string]*Group
	prefs       map[string][]byte
}

// NewMemoryStore builds an empty MemoryStore for the given local account.
func NewMemoryStore(number string, deviceID uint32) *MemoryStore {
	return &MemoryStore{
		number:      number,
		deviceID:    deviceID,
		devices:     make(map[string][]uint32),
		unprocessed: make(map[string]*UnprocessedItem),
		groups:      make(map[string]*Group),
		prefs:       make(map[string][]byte),
	}
}

func (m *MemoryStore) GetDeviceIDs(ctx context.Context, number string) ([]uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint32(nil), m.devices[number]...), nil
}

// SetDeviceIDs lets test/demo callers seed a device roster.
func (m *MemoryStore) SetDeviceIDs(number string, ids []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[number] = ids
}

func (m *MemoryStore) RemoveSession(ctx context.Context, addr SessionAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.devices[addr.Number]
	out := ids[:0]
	for _, id := range ids {
		if id != addr.DeviceID {
			out = append(out, id)
		}
	}
	m.devices[addr.Number] = out
	return nil
}

func (m *MemoryStore) UserGetNumber(ctx context.Context) (string, error) { return m.number, nil }

func (m *MemoryStore) UserGetDeviceID(ctx context.Context) (uint32, error) { return m.deviceID, nil }

func (m *MemoryStore) AddUnprocessed(ctx context.Context, item *UnprocessedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unprocessed[item.IDStr] = item
	return nil
}

func (m *MemoryStore) UpdateUnprocessed(ctx context.Context, item *UnprocessedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.unprocessed[item.IDStr]; !ok {
		return fmt.Errorf("sigtransport: no such unprocessed item %s", item.IDStr)
	}
	m.unprocessed[item.IDStr] = item
	return nil
}

func (m *MemoryStore) GetUnprocessed(ctx context.Context, id string) (*UnprocessedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.unprocessed[id]
	if !ok {
		return nil, fmt.Errorf("sigtransport: no such unprocessed item %s", id)
	}
	return item, nil
}

func (m *MemoryStore) GetAllUnprocessed(ctx context.Context) ([]*UnprocessedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*UnprocessedItem, 0, len(m.unprocessed))
	for _, item := range m.unprocessed {
		out = append(out, item)
	}
	return out, nil
}

func (m *MemoryStore) CountUnprocessed(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unprocessed), nil
}

func (m *MemoryStore) RemoveUnprocessed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.unprocessed, id)
	return nil
}

func (m *MemoryStore) RemoveAllUnprocessed(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unprocessed = make(map[string]*UnprocessedItem)
	return nil
}

func (m *MemoryStore) GroupsGetGroup(ctx context.Context, id []byte) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[string(id)]
	if !ok {
		return nil, nil
	}
	return g, nil
}

func (m *MemoryStore) GroupsGetNumbers(ctx context.Context, id []byte) ([]string, error) {
	g, err := m.GroupsGetGroup(ctx, id)
	if err != nil || g == nil {
		return nil, err
	}
	return g.Numbers, nil
}

func (m *MemoryStore) GroupsCreateNewGroup(ctx context.Context, members []string, id []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[string(id)] = &Group{ID: append([]byte(nil), id...), Numbers: append([]string(nil), members...)}
	return nil
}

func (m *MemoryStore) GroupsUpdateNumbers(ctx context.Context, id []byte, members []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[string(id)]
	if !ok {
		return fmt.Errorf("sigtransport: no such group")
	}
	g.Numbers = append([]string(nil), members...)
	return nil
}

func (m *MemoryStore) GroupsRemoveNumber(ctx context.Context, id []byte, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[string(id)]
	if !ok {
		return nil
	}
	out := g.Numbers[:0]
	for _, n := range g.Numbers {
		if n != number {
			out = append(out, n)
		}
	}
	g.Numbers = out
	return nil
}

func (m *MemoryStore) GroupsDeleteGroup(ctx context.Context, id []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, string(id))
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string, def []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.prefs[key]; ok {
		return v, nil
	}
	return def, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[key] = value
	return nil
}

var _ Store = (*MemoryStore)(nil)

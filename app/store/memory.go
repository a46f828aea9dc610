package store

import (
	"context"
	"fmt"
	"io"
	"sync"
)

type Counters struct {
	Find          int
	CreateFolder  int
	CreateFile    int
	UpdateContent int
	SetRole       int
	GetContent    int
}

// Writes counts the calls that change stored content.
func (c Counters) Writes() int {
	return c.CreateFolder + c.CreateFile + c.UpdateContent
}

type memoryAsset struct {
	Asset
	mimeType string
	content  []byte
	role     Role
}

// Memory is an in-process RemoteStore. It counts calls and can be told to
// fail a number of upcoming calls per operation.
type Memory struct {
	mu       sync.Mutex
	assets   map[string]*memoryAsset
	order    []string
	nextID   int
	counters Counters
	failures map[string]int
}

var _ RemoteStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		assets:   make(map[string]*memoryAsset),
		failures: make(map[string]int),
	}
}

// FailNext makes the next n calls of op fail. op is one of find,
// create_folder, create_file, update, set_role, get.
func (m *Memory) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = n
}

func (m *Memory) Calls() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

func (m *Memory) Role(id string) Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.assets[id]; ok {
		return a.role
	}
	return ""
}

func (m *Memory) Assets() []Asset {
	m.mu.Lock()
	defer m.mu.Unlock()
	assets := make([]Asset, 0, len(m.order))
	for _, id := range m.order {
		assets = append(assets, m.assets[id].Asset)
	}
	return assets
}

func (m *Memory) fail(op string) error {
	if m.failures[op] > 0 {
		m.failures[op]--
		return fmt.Errorf("%s: injected failure", op)
	}
	return nil
}

func (m *Memory) FindByName(ctx context.Context, q Query) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Find++
	if err := m.fail("find"); err != nil {
		return nil, err
	}

	for _, id := range m.order {
		a := m.assets[id]
		if a.Name != q.Name || a.Folder != q.Folder {
			continue
		}
		if q.ParentID != "" && a.ParentID != q.ParentID {
			continue
		}
		asset := a.Asset
		return &asset, nil
	}
	return nil, nil
}

func (m *Memory) CreateFolder(ctx context.Context, name string) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.CreateFolder++
	if err := m.fail("create_folder"); err != nil {
		return nil, err
	}

	a := m.add(Asset{Name: name, Folder: true}, FolderMimeType, nil)
	return &a, nil
}

func (m *Memory) CreateFile(ctx context.Context, name, parentID, mimeType string, content io.Reader) (*Asset, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.CreateFile++
	if err := m.fail("create_file"); err != nil {
		return nil, err
	}

	a := m.add(Asset{Name: name, ParentID: parentID}, mimeType, data)
	return &a, nil
}

func (m *Memory) UpdateFileContent(ctx context.Context, id, mimeType string, content io.Reader) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.UpdateContent++
	if err := m.fail("update"); err != nil {
		return err
	}

	a, ok := m.assets[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	a.content = data
	a.mimeType = mimeType
	return nil
}

func (m *Memory) SetPublicRole(ctx context.Context, id string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.SetRole++
	if err := m.fail("set_role"); err != nil {
		return err
	}

	a, ok := m.assets[id]
	if !ok {
		return fmt.Errorf("set role %s: %w", id, ErrNotFound)
	}
	a.role = role
	return nil
}

func (m *Memory) GetPublicRole(ctx context.Context, id string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[id]
	if !ok {
		return "", fmt.Errorf("get role %s: %w", id, ErrNotFound)
	}
	return a.role, nil
}

func (m *Memory) GetFileContent(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.GetContent++
	if err := m.fail("get"); err != nil {
		return nil, err
	}

	a, ok := m.assets[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	data := make([]byte, len(a.content))
	copy(data, a.content)
	return data, nil
}

func (m *Memory) add(asset Asset, mimeType string, content []byte) Asset {
	m.nextID++
	asset.ID = fmt.Sprintf("mem-%d", m.nextID)
	m.assets[asset.ID] = &memoryAsset{Asset: asset, mimeType: mimeType, content: content}
	m.order = append(m.order, asset.ID)
	return asset
}

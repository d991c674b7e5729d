package docstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps documents in process memory. Used by tests and the
// "memory" driver.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Kind() string { return "memory" }
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) ReadCollection(ctx context.Context, name string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	col := m.collections[name]
	docs := make([]Document, 0, len(col))
	for id, body := range col {
		docs = append(docs, Document{ID: id, Body: cloneBytes(body)})
	}
	sortDocs(docs)
	return docs, nil
}

func (m *MemoryStore) WriteCollection(ctx context.Context, name string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDocs(name, docs); err != nil {
		return err
	}
	col := make(map[string][]byte, len(docs))
	for _, d := range docs {
		col[d.ID] = cloneBytes(d.Body)
	}
	m.mu.Lock()
	m.collections[name] = col
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) BatchWrite(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateOps(ops); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// stage changes on copies of the touched collections
	staged := make(map[string]map[string][]byte)
	for _, op := range ops {
		col, ok := staged[op.Collection]
		if !ok {
			col = make(map[string][]byte, len(m.collections[op.Collection]))
			for id, body := range m.collections[op.Collection] {
				col[id] = body
			}
			staged[op.Collection] = col
		}
		_, exists := col[op.Doc.ID]
		switch op.Kind {
		case OpAdd:
			if exists {
				return fmt.Errorf("add %s/%s: %w", op.Collection, op.Doc.ID, ErrExists)
			}
			col[op.Doc.ID] = cloneBytes(op.Doc.Body)
		case OpUpdate:
			if !exists {
				return fmt.Errorf("update %s/%s: %w", op.Collection, op.Doc.ID, ErrMissing)
			}
			col[op.Doc.ID] = cloneBytes(op.Doc.Body)
		case OpDelete:
			delete(col, op.Doc.ID)
		}
	}
	for name, col := range staged {
		m.collections[name] = col
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

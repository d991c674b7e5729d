// Package docstore is the collection-scoped document persistence layer.
//
// Every backend stores JSON documents keyed by (collection, id) and offers a
// whole-collection read, a whole-collection replace and an all-or-nothing
// batch of add/update/delete operations.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrExists is returned when an add op targets an ID that is already stored.
	ErrExists = errors.New("docstore: document already exists")
	// ErrMissing is returned when an update op targets an ID that is not stored.
	ErrMissing = errors.New("docstore: document does not exist")
	// ErrVerifyMismatch is returned when a read-back after write differs from what was written.
	ErrVerifyMismatch = errors.New("docstore: write verification failed")
	// ErrConflict is returned when a backend gives up retrying a contended batch.
	ErrConflict = errors.New("docstore: concurrent modification")
	ErrInvalidOp = errors.New("docstore: invalid op")
)

type Document struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

type Op struct {
	Collection string
	Kind       OpKind
	Doc        Document
}

func Add(collection string, doc Document) Op {
	return Op{Collection: collection, Kind: OpAdd, Doc: doc}
}

func Update(collection string, doc Document) Op {
	return Op{Collection: collection, Kind: OpUpdate, Doc: doc}
}

func Delete(collection, id string) Op {
	return Op{Collection: collection, Kind: OpDelete, Doc: Document{ID: id}}
}

// Adapter is implemented by every storage backend.
type Adapter interface {
	// ReadCollection returns all documents ordered by ID. An empty or unknown
	// collection yields an empty slice and a nil error.
	ReadCollection(ctx context.Context, name string) ([]Document, error)
	// WriteCollection replaces the whole collection with docs.
	WriteCollection(ctx context.Context, name string, docs []Document) error
	// BatchWrite applies ops atomically: either all of them land or none do.
	BatchWrite(ctx context.Context, ops []Op) error
	// Kind names the backend ("sqlite", "postgres", "redis", "memory").
	Kind() string
	Close() error
}

// Marshal encodes v as a document body under id.
func Marshal(id string, v any) (Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("marshal %s: %w", id, err)
	}
	return Document{ID: id, Body: body}, nil
}

func validateOps(ops []Op) error {
	for i, op := range ops {
		if op.Collection == "" {
			return fmt.Errorf("%w: op %d has no collection", ErrInvalidOp, i)
		}
		if op.Doc.ID == "" {
			return fmt.Errorf("%w: op %d has no document id", ErrInvalidOp, i)
		}
		switch op.Kind {
		case OpAdd, OpUpdate:
			if len(op.Doc.Body) == 0 {
				return fmt.Errorf("%w: op %d (%s %s/%s) has no body", ErrInvalidOp, i, op.Kind, op.Collection, op.Doc.ID)
			}
		case OpDelete:
		default:
			return fmt.Errorf("%w: op %d has unknown kind %q", ErrInvalidOp, i, op.Kind)
		}
	}
	return nil
}

func validateDocs(name string, docs []Document) error {
	if name == "" {
		return fmt.Errorf("%w: empty collection name", ErrInvalidOp)
	}
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("%w: document without id in %s", ErrInvalidOp, name)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate id %s in %s", ErrInvalidOp, d.ID, name)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

type docKey struct {
	collection string
	id         string
}

// finalState reduces a batch to the expected post-batch body per document.
// A nil body means the document should be absent.
func finalState(ops []Op) map[docKey][]byte {
	out := make(map[docKey][]byte, len(ops))
	for _, op := range ops {
		k := docKey{op.Collection, op.Doc.ID}
		if op.Kind == OpDelete {
			out[k] = nil
			continue
		}
		out[k] = []byte(op.Doc.Body)
	}
	return out
}

func sortDocs(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

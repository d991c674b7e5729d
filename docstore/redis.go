package docstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisBatchRetries = 5

// RedisStore keeps one hash per collection, field = document ID,
// value = JSON body. Batches run under WATCH/MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	prefix string

	// beforeExec, when set, runs after the existence checks and before
	// MULTI/EXEC of every attempt.
	beforeExec func()
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rolltrack"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) collectionKey(name string) string {
	return fmt.Sprintf("%s:col:%s", r.prefix, name)
}

func (r *RedisStore) Kind() string { return "redis" }
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) ReadCollection(ctx context.Context, name string) ([]Document, error) {
	fields, err := r.client.HGetAll(ctx, r.collectionKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	docs := make([]Document, 0, len(fields))
	for id, body := range fields {
		docs = append(docs, Document{ID: id, Body: []byte(body)})
	}
	sortDocs(docs)
	return docs, nil
}

func (r *RedisStore) WriteCollection(ctx context.Context, name string, docs []Document) error {
	if err := validateDocs(name, docs); err != nil {
		return err
	}
	key := r.collectionKey(name)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(docs) == 0 {
			return nil
		}
		values := make([]any, 0, len(docs)*2)
		for _, d := range docs {
			values = append(values, d.ID, string(d.Body))
		}
		pipe.HSet(ctx, key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (r *RedisStore) BatchWrite(ctx context.Context, ops []Op) error {
	if err := validateOps(ops); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, op := range ops {
		k := r.collectionKey(op.Collection)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	txf := func(tx *redis.Tx) error {
		// existence as it will be after the ops processed so far
		present := make(map[docKey]bool)
		for _, op := range ops {
			k := docKey{op.Collection, op.Doc.ID}
			exists, known := present[k]
			if !known {
				var err error
				exists, err = tx.HExists(ctx, r.collectionKey(op.Collection), op.Doc.ID).Result()
				if err != nil {
					return fmt.Errorf("lookup %s/%s: %w", op.Collection, op.Doc.ID, err)
				}
			}
			switch op.Kind {
			case OpAdd:
				if exists {
					return fmt.Errorf("add %s/%s: %w", op.Collection, op.Doc.ID, ErrExists)
				}
				present[k] = true
			case OpUpdate:
				if !exists {
					return fmt.Errorf("update %s/%s: %w", op.Collection, op.Doc.ID, ErrMissing)
				}
				present[k] = true
			case OpDelete:
				present[k] = false
			}
		}
		if r.beforeExec != nil {
			r.beforeExec()
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range ops {
				key := r.collectionKey(op.Collection)
				if op.Kind == OpDelete {
					pipe.HDel(ctx, key, op.Doc.ID)
					continue
				}
				pipe.HSet(ctx, key, op.Doc.ID, string(op.Doc.Body))
			}
			return nil
		})
		return err
	}

	for i := 0; i < redisBatchRetries; i++ {
		err := r.client.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("batch of %d ops: %w", len(ops), ErrConflict)
}

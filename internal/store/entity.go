package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/segmentio/encoding/json"
)

// Entity provides generic persistence for one record type.
// Indexes are non-unique: many records may share a value.
type Entity[T any] struct {
	store   *Store
	prefix  string
	idOf    func(*T) string
	indexes []Index[T]
}

// Index defines a secondary index on an entity.
type Index[T any] struct {
	name   string
	keyGen func(*T) string
}

// NewEntity creates an Entity stored under prefix.
func NewEntity[T any](s *Store, prefix string, idOf func(*T) string) *Entity[T] {
	return &Entity[T]{store: s, prefix: prefix, idOf: idOf}
}

// WithIndex adds a secondary index to the entity.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen})
	return e
}

// Put creates or replaces a record, moving its index entries as needed.
func (e *Entity[T]) Put(ctx context.Context, entity *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id := e.idOf(entity)
	if id == "" {
		return fmt.Errorf("put %s: empty id: %w", strings.TrimSuffix(e.prefix, ":"), ErrInvalidInput)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		old, err := e.load(txn, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if old != nil {
			for _, idx := range e.indexes {
				if idx.keyGen(old) == idx.keyGen(entity) {
					continue
				}
				if err := txn.Delete(indexKey(e.prefix, idx.name, idx.keyGen(old), id)); err != nil {
					return fmt.Errorf("delete index %s: %w", idx.name, err)
				}
			}
		}

		if err := txn.Set([]byte(e.prefix+id), data); err != nil {
			return fmt.Errorf("set key: %w", err)
		}
		for _, idx := range e.indexes {
			if err := txn.Set(indexKey(e.prefix, idx.name, idx.keyGen(entity), id), nil); err != nil {
				return fmt.Errorf("set index %s: %w", idx.name, err)
			}
		}
		return nil
	})
}

// Get retrieves a record by ID.
// Returns ErrNotFound if it does not exist.
func (e *Entity[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entity *T
	err := e.store.db.View(func(txn *badger.Txn) error {
		var err error
		entity, err = e.load(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// Delete removes a record and its index entries.
// Deleting a missing record is not an error.
func (e *Entity[T]) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return e.store.db.Update(func(txn *badger.Txn) error {
		return e.deleteTxn(txn, id)
	})
}

// List iterates over every record.
func (e *Entity[T]) List(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		_ = e.store.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(e.prefix)

			it := txn.NewIterator(opts)
			defer it.Close()

			idxPrefix := e.prefix + "idx:"
			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return err
				}
				if strings.HasPrefix(string(it.Item().Key()), idxPrefix) {
					continue
				}

				var entity T
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &entity)
				}); err != nil {
					err = fmt.Errorf("unmarshal entity: %w", err)
					yield(nil, err)
					return err
				}
				if !yield(&entity, nil) {
					return nil
				}
			}
			return nil
		})
	}
}

// ListByIndex iterates over the records whose index name equals value.
func (e *Entity[T]) ListByIndex(ctx context.Context, name, value string) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		_ = e.store.db.View(func(txn *badger.Txn) error {
			prefix := buildKey(e.prefix, "idx:", name, ":", value, ":")
			defer releaseKey(prefix)

			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return err
				}

				id := string(it.Item().Key()[len(prefix):])
				entity, err := e.load(txn, id)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					yield(nil, err)
					return err
				}
				if !yield(entity, nil) {
					return nil
				}
			}
			return nil
		})
	}
}

// DeleteByIndex removes every record whose index name equals value
// and returns how many were removed.
func (e *Entity[T]) DeleteByIndex(ctx context.Context, name, value string) (int, error) {
	var ids []string
	for entity, err := range e.ListByIndex(ctx, name, value) {
		if err != nil {
			return 0, err
		}
		ids = append(ids, e.idOf(entity))
	}

	err := e.store.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := e.deleteTxn(txn, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (e *Entity[T]) load(txn *badger.Txn, id string) (*T, error) {
	key := buildKey(e.prefix, id)
	defer releaseKey(key)

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}

	var entity T
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entity)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal entity: %w", err)
	}
	return &entity, nil
}

func (e *Entity[T]) deleteTxn(txn *badger.Txn, id string) error {
	entity, err := e.load(txn, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, idx := range e.indexes {
		if err := txn.Delete(indexKey(e.prefix, idx.name, idx.keyGen(entity), id)); err != nil {
			return fmt.Errorf("delete index %s: %w", idx.name, err)
		}
	}
	if err := txn.Delete([]byte(e.prefix + id)); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

// Package memstore is an in-process store with optimistic transactions.
//
// A transaction buffers its writes and remembers the revision of every record it
// touched; commit fails with domain.ErrConflict if any of them moved in between.
package memstore

import (
	"context"
	"sync"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

// record is a committed value. Deleted records stay as tombstones so their
// revision keeps moving forward.
type record struct {
	rev     uint64
	val     any
	deleted bool
}

type Store struct {
	mu   sync.RWMutex
	data map[string]record
	rev  uint64
}

func New() *Store {
	return &Store{data: make(map[string]record)}
}

// Usecase returns the store wired as the use case bundle.
func (s *Store) Usecase() usecase.Store {
	return usecase.Store{
		Tx:       s,
		Products: (*ProductRepo)(s),
		Carts:    (*CartRepo)(s),
		Orders:   (*OrderRepo)(s),
	}
}

func (s *Store) Notifications() *NotificationRepo { return (*NotificationRepo)(s) }

type write struct {
	val     any
	deleted bool
}

type tx struct {
	s      *Store
	seen   map[string]uint64 // revision observed at first touch, 0 if absent
	writes map[string]write
}

type txKey struct{}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if t := txFrom(ctx); t != nil && t.s == s {
		return fn(ctx)
	}
	t := &tx{s: s, seen: map[string]uint64{}, writes: map[string]write{}}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

// run executes fn inside the caller's transaction or a single-statement one.
func (s *Store) run(ctx context.Context, fn func(t *tx) error) error {
	if t := txFrom(ctx); t != nil && t.s == s {
		return fn(t)
	}
	t := &tx{s: s, seen: map[string]uint64{}, writes: map[string]write{}}
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

// get returns domain.ErrNotFound for absent records and domain.ErrConflict when the
// record moved since this transaction first saw it.
func (t *tx) get(key string) (any, error) {
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return nil, domain.ErrNotFound
		}
		return w.val, nil
	}
	t.s.mu.RLock()
	r, ok := t.s.data[key]
	t.s.mu.RUnlock()
	if rev, touched := t.seen[key]; !touched {
		t.seen[key] = r.rev
	} else if rev != r.rev {
		return nil, domain.ErrConflict
	}
	if !ok || r.deleted {
		return nil, domain.ErrNotFound
	}
	return r.val, nil
}

func (t *tx) put(key string, val any) {
	t.touch(key)
	t.writes[key] = write{val: val}
}

func (t *tx) del(key string) {
	t.touch(key)
	t.writes[key] = write{deleted: true}
}

func (t *tx) touch(key string) {
	if _, ok := t.seen[key]; ok {
		return
	}
	t.s.mu.RLock()
	t.seen[key] = t.s.data[key].rev
	t.s.mu.RUnlock()
}

func (t *tx) commit() error {
	if len(t.writes) == 0 {
		return nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for key, rev := range t.seen {
		if t.s.data[key].rev != rev {
			return domain.ErrConflict
		}
	}
	for key, w := range t.writes {
		t.s.rev++
		if w.deleted {
			t.s.data[key] = record{rev: t.s.rev, deleted: true}
			continue
		}
		t.s.data[key] = record{rev: t.s.rev, val: w.val}
	}
	return nil
}

// scan visits committed records with the prefix, overlaid with the transaction's writes.
func (t *tx) scan(prefix string, fn func(val any)) {
	t.s.mu.RLock()
	vals := make(map[string]any)
	for k, r := range t.s.data {
		if !r.deleted && len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			vals[k] = r.val
		}
	}
	t.s.mu.RUnlock()
	for k, w := range t.writes {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if w.deleted {
			delete(vals, k)
		} else {
			vals[k] = w.val
		}
	}
	for _, v := range vals {
		fn(v)
	}
}

var _ usecase.TxRunner = (*Store)(nil)

// Package ledgerview opens a read-only, secondary view of the node's
// embedded MDBX ledger and serves point lookups, prefix lookups and
// iteration to the rest of the pipeline. It never writes: its Commit,
// Remove and Write methods panic with chain.ErrWriteRejected at run
// time.
//
// Reorg handling below the highest indexed height is out of scope:
// this view answers "what is the block at height/hash X right now",
// it does not detect that a previously-returned block has since been
// superseded by a fork.
package ledgerview

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/archive-node/internal/chain"
)

// lookupBudget bounds a single point lookup, per spec.md section 5:
// "C1 point lookups are bounded by a 1 s wall-clock budget and fail
// softly on expiry."
const lookupBudget = time.Second

// Cursor is the narrow slice of kv.Cursor this package needs.
type Cursor interface {
	Seek(seek []byte) (k, v []byte, err error)
	Next() (k, v []byte, err error)
	Close()
}

// Tx is the narrow slice of kv.Tx this package needs, so fakes in
// tests don't have to implement erigon's full transaction surface.
type Tx interface {
	GetOne(table string, key []byte) ([]byte, error)
	Cursor(table string) (Cursor, error)
}

// KV is the subset of kv.RoDB this package depends on.
type KV interface {
	View(f func(tx Tx) error) error
	Close()
}

// View is a read-only, catch-up-on-miss window onto the node's ledger.
type View struct {
	db     KV
	logger log.Logger
}

// NewForTesting wraps an already-open KV implementation (e.g. a fake),
// skipping the MDBX open call in open.go.
func NewForTesting(db KV, logger log.Logger) *View {
	return &View{db: db, logger: logger}
}

// Close releases the underlying environment handle.
func (v *View) Close() { v.db.Close() }

// CatchUp ingests log entries written by the primary since the last
// catch-up. For an MVCC store opened in accede mode this is simply
// "start a fresh read transaction" — every new transaction observes
// the primary's latest committed writes, which is the behavioral
// equivalent of RocksDB's try_catch_up_with_primary for this engine.
func (v *View) CatchUp() error {
	return v.db.View(func(Tx) error { return nil })
}

// Get performs a point lookup in column. Per spec.md section 4.1: if
// the first attempt returns absent or errors transiently, CatchUp is
// invoked and the lookup retried exactly once; a persistent absence
// after retry returns (nil, false) with no error.
func (v *View) Get(column string, key []byte) ([]byte, bool, error) {
	val, ok, err := v.get(column, key)
	if err == nil && ok {
		return val, true, nil
	}
	if err != nil {
		v.logger.Warn("ledger view read failed, catching up and retrying", "column", column, "err", err)
	}
	if cuErr := v.CatchUp(); cuErr != nil {
		return nil, false, fmt.Errorf("%w: catch-up failed: %v", chain.ErrTransientStore, cuErr)
	}
	val, ok, err = v.get(column, key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", chain.ErrTransientStore, err)
	}
	return val, ok, nil
}

func (v *View) get(column string, key []byte) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := withBudget(lookupBudget, func() error {
		return v.db.View(func(tx Tx) error {
			got, err := tx.GetOne(column, key)
			if err != nil {
				return err
			}
			if got != nil {
				val = append([]byte(nil), got...)
				ok = true
			}
			return nil
		})
	})
	return val, ok, err
}

// GetByPrefix returns the first value whose key starts with prefix,
// retrying through CatchUp on the same terms as Get.
func (v *View) GetByPrefix(column string, prefix []byte) ([]byte, bool, error) {
	val, ok, err := v.getByPrefix(column, prefix)
	if err == nil && ok {
		return val, true, nil
	}
	if err != nil {
		v.logger.Warn("ledger view prefix read failed, catching up and retrying", "column", column, "err", err)
	}
	if cuErr := v.CatchUp(); cuErr != nil {
		return nil, false, fmt.Errorf("%w: catch-up failed: %v", chain.ErrTransientStore, cuErr)
	}
	return v.getByPrefix(column, prefix)
}

func (v *View) getByPrefix(column string, prefix []byte) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := withBudget(lookupBudget, func() error {
		return v.db.View(func(tx Tx) error {
			c, err := tx.Cursor(column)
			if err != nil {
				return err
			}
			defer c.Close()
			k, v2, err := c.Seek(prefix)
			if err != nil {
				return err
			}
			if k != nil && bytes.HasPrefix(k, prefix) {
				val = append([]byte(nil), v2...)
				ok = true
			}
			return nil
		})
	})
	return val, ok, err
}

// KeyValue is a single iteration result.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Iterate returns every (key, value) pair in column. The slice is
// materialized eagerly: a single call is consumed once, matching
// spec.md section 4.1's "restartable only across distinct calls"
// contract — call Iterate again for a fresh pass.
func (v *View) Iterate(column string) ([]KeyValue, error) {
	return v.IterateWithPrefix(column, nil)
}

// IterateWithPrefix is Iterate restricted to keys starting with
// prefix.
func (v *View) IterateWithPrefix(column string, prefix []byte) ([]KeyValue, error) {
	var out []KeyValue
	err := v.db.View(func(tx Tx) error {
		c, err := tx.Cursor(column)
		if err != nil {
			return err
		}
		defer c.Close()
		k, val, err := c.Seek(prefix)
		for ; k != nil; k, val, err = c.Next() {
			if err != nil {
				return err
			}
			if prefix != nil && !bytes.HasPrefix(k, prefix) {
				break
			}
			out = append(out, KeyValue{Key: append([]byte(nil), k...), Value: append([]byte(nil), val...)})
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrTransientStore, err)
	}
	return out, nil
}

// Commit, Remove and Write are programmer errors on a read-only view:
// the primary (the node) holds the exclusive write lock. They exist so
// this type can satisfy call sites that expect a general KV handle,
// and fail loudly rather than silently no-op.
func (v *View) Commit() error                     { panic(chain.ErrWriteRejected) }
func (v *View) Remove(string, []byte) error       { panic(chain.ErrWriteRejected) }
func (v *View) Write(string, []byte, []byte) error { panic(chain.ErrWriteRejected) }

func withBudget(budget time.Duration, f func() error) error {
	done := make(chan error, 1)
	go func() { done <- f() }()
	select {
	case err := <-done:
		return err
	case <-time.After(budget):
		return fmt.Errorf("%w: lookup exceeded %s budget", chain.ErrTransientStore, budget)
	}
}

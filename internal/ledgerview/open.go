package ledgerview

import (
	"context"
	"fmt"

	"github.com/gateway-fm/cdk-erigon-lib/kv"
	"github.com/gateway-fm/cdk-erigon-lib/kv/mdbx"
	"github.com/ledgerwatch/log/v3"
	mdbx2 "github.com/torquem-ch/mdbx-go/mdbx"
)

// Open opens an MDBX environment in accede+readonly mode against path.
// Accede means the env attaches to whatever primary already has the
// data directory open for writing, rather than trying to create or
// own it — the Go analogue of RocksDB's secondary-instance open used
// by the original Rust source's ReadOnlyDatabase (database.rs). Flag
// composition mirrors zk/txpool/acl.go's OpenACLDB.
func Open(path string, tableCfg kv.TableCfg, logger log.Logger) (*View, error) {
	db, err := mdbx.NewMDBX(logger).
		Path(path).
		WithTableCfg(func(kv.TableCfg) kv.TableCfg { return tableCfg }).
		Flags(func(f uint) uint { return f | mdbx2.Accede | mdbx2.Readonly }).
		Open()
	if err != nil {
		return nil, fmt.Errorf("opening secondary ledger view at %q: %w", path, err)
	}
	return &View{db: mdbxKV{db}, logger: logger}, nil
}

// mdbxKV adapts a real kv.RoDB onto this package's narrow KV
// interface, unwrapping kv.Tx/kv.Cursor to our local Tx/Cursor.
type mdbxKV struct {
	db kv.RoDB
}

func (m mdbxKV) View(f func(tx Tx) error) error {
	return m.db.View(context.Background(), func(tx kv.Tx) error {
		return f(txAdapter{tx})
	})
}

func (m mdbxKV) Close() { m.db.Close() }

type txAdapter struct{ tx kv.Tx }

func (t txAdapter) GetOne(table string, key []byte) ([]byte, error) {
	return t.tx.GetOne(table, key)
}

func (t txAdapter) Cursor(table string) (Cursor, error) {
	c, err := t.tx.Cursor(table)
	if err != nil {
		return nil, err
	}
	return c, nil
}

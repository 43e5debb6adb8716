// Package db is the persistent embedded store backing C2 (deposit event
// cache) and C5 (signing-key event cache). It follows the teacher's own
// sqlx + single-writer-transaction idiom (dora's RunDBTransaction /
// GetExplorerState / SetExplorerState), adapted to this daemon's two event
// namespaces plus a generic key-value table for headers and cursors.
package db

import (
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/glebarez/go-sqlite"

	"github.com/lidofinance/council-daemon/internal/dbtypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS deposit_events (
	block_number INTEGER NOT NULL,
	log_index INTEGER NOT NULL,
	block_hash BLOB NOT NULL,
	pubkey BLOB NOT NULL,
	withdrawal_credentials BLOB NOT NULL,
	amount_gwei INTEGER NOT NULL,
	signature BLOB NOT NULL,
	deposit_count INTEGER NOT NULL,
	deposit_data_root BLOB NOT NULL,
	tx_hash BLOB NOT NULL,
	valid INTEGER NOT NULL,
	PRIMARY KEY (block_number, log_index)
);

CREATE TABLE IF NOT EXISTS signing_key_events (
	module_address BLOB NOT NULL,
	module_id INTEGER NOT NULL,
	block_number INTEGER NOT NULL,
	log_index INTEGER NOT NULL,
	operator_index INTEGER NOT NULL,
	pubkey BLOB NOT NULL,
	PRIMARY KEY (module_address, block_number, log_index)
);

CREATE TABLE IF NOT EXISTS kv_state (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// Store wraps the sqlx handle used for all persistence.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the embedded SQLite database at path
// and ensures the schema exists.
func Open(path string) (*Store, error) {
	dbx, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open store: %v", err)
	}

	if _, err := dbx.Exec(schema); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("could not apply schema: %v", err)
	}

	return &Store{db: dbx}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunTransaction executes fn inside a single sqlx transaction, committing on
// success and rolling back on any error, matching the teacher's
// RunDBTransaction idiom.
func (s *Store) RunTransaction(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %v", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (%v), rollback also failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %v", err)
	}

	return nil
}

// InsertDepositEventsBatch inserts a batch of deposit event rows atomically.
func (s *Store) InsertDepositEventsBatch(tx *sqlx.Tx, rows []dbtypes.DepositEventRow) error {
	const q = `INSERT OR REPLACE INTO deposit_events
		(block_number, log_index, block_hash, pubkey, withdrawal_credentials, amount_gwei, signature, deposit_count, deposit_data_root, tx_hash, valid)
		VALUES (:block_number, :log_index, :block_hash, :pubkey, :withdrawal_credentials, :amount_gwei, :signature, :deposit_count, :deposit_data_root, :tx_hash, :valid)`

	for i := range rows {
		if _, err := tx.NamedExec(q, rows[i]); err != nil {
			return fmt.Errorf("could not insert deposit event (block %v, log %v): %v", rows[i].BlockNumber, rows[i].LogIndex, err)
		}
	}
	return nil
}

// GetDepositEvents returns every persisted deposit event ordered by
// (block_number, log_index).
func (s *Store) GetDepositEvents() ([]dbtypes.DepositEventRow, error) {
	var rows []dbtypes.DepositEventRow
	err := s.db.Select(&rows, `SELECT * FROM deposit_events ORDER BY block_number ASC, log_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("could not load deposit events: %v", err)
	}
	return rows, nil
}

// InsertSigningKeyEventsBatch inserts a batch of SigningKeyAdded rows.
func (s *Store) InsertSigningKeyEventsBatch(tx *sqlx.Tx, rows []dbtypes.SigningKeyEventRow) error {
	const q = `INSERT OR REPLACE INTO signing_key_events
		(module_address, module_id, block_number, log_index, operator_index, pubkey)
		VALUES (:module_address, :module_id, :block_number, :log_index, :operator_index, :pubkey)`

	for i := range rows {
		if _, err := tx.NamedExec(q, rows[i]); err != nil {
			return fmt.Errorf("could not insert signing key event (module %x, block %v, log %v): %v", rows[i].ModuleAddress, rows[i].BlockNumber, rows[i].LogIndex, err)
		}
	}
	return nil
}

// GetSigningKeyEventsForModule returns every persisted SigningKeyAdded event
// for a given module, ordered earliest-first.
func (s *Store) GetSigningKeyEventsForModule(moduleAddress []byte) ([]dbtypes.SigningKeyEventRow, error) {
	var rows []dbtypes.SigningKeyEventRow
	err := s.db.Select(&rows, `SELECT * FROM signing_key_events WHERE module_address = ? ORDER BY block_number ASC, log_index ASC`, moduleAddress)
	if err != nil {
		return nil, fmt.Errorf("could not load signing key events: %v", err)
	}
	return rows, nil
}

// GetState loads a JSON-encoded value from the kv_state table into dest.
// It returns false (with a nil error) if the key has not been set yet,
// matching dora's GetExplorerState semantics.
func (s *Store) GetState(namespace, key string, dest interface{}) (bool, error) {
	var row dbtypes.KVStateRow
	err := s.db.Get(&row, `SELECT * FROM kv_state WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return false, nil
		}
		return false, fmt.Errorf("could not load state %s/%s: %v", namespace, key, err)
	}

	if err := json.Unmarshal(row.Value, dest); err != nil {
		return false, fmt.Errorf("could not decode state %s/%s: %v", namespace, key, err)
	}
	return true, nil
}

// SetState persists a JSON-encoded value to the kv_state table within tx.
func (s *Store) SetState(tx *sqlx.Tx, namespace, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("could not encode state %s/%s: %v", namespace, key, err)
	}

	const q = `INSERT INTO kv_state (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`
	if _, err := tx.Exec(q, namespace, key, data); err != nil {
		return fmt.Errorf("could not persist state %s/%s: %v", namespace, key, err)
	}
	return nil
}

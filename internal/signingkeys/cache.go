// Package signingkeys implements C5, the persistent cache of SigningKeyAdded
// events per staking module, used by the duplicate detector (C7) to order
// "who added this key first" across modules.
package signingkeys

import (
	"github.com/jmoiron/sqlx"

	"github.com/lidofinance/council-daemon/internal/db"
	"github.com/lidofinance/council-daemon/internal/dbtypes"
	"github.com/lidofinance/council-daemon/internal/domain"
)

// Cache is the C5 signing-key event store.
type Cache struct {
	store *db.Store
}

// New wraps a Store for signing-key event persistence.
func New(store *db.Store) *Cache {
	return &Cache{store: store}
}

// InsertEventsBatch atomically persists a batch of SigningKeyAdded events
// and records the module address in the known-modules header.
func (c *Cache) InsertEventsBatch(moduleAddress [20]byte, events []*domain.SigningKeyAddedEvent) error {
	rows := make([]dbtypes.SigningKeyEventRow, len(events))
	for i, e := range events {
		rows[i] = dbtypes.SigningKeyEventRow{
			ModuleAddress: e.ModuleAddress[:],
			ModuleID:      e.ModuleID,
			BlockNumber:   e.BlockNumber,
			LogIndex:      e.LogIndex,
			OperatorIndex: e.OperatorIndex,
			Pubkey:        e.Pubkey[:],
		}
	}

	return c.store.RunTransaction(func(tx *sqlx.Tx) error {
		if err := c.store.InsertSigningKeyEventsBatch(tx, rows); err != nil {
			return err
		}

		var known [][20]byte
		c.store.GetState(dbtypes.NamespaceSigningKeyEvents, dbtypes.KeyStakingModulesAddresses, &known)
		for _, k := range known {
			if k == moduleAddress {
				return nil
			}
		}
		known = append(known, moduleAddress)
		return c.store.SetState(tx, dbtypes.NamespaceSigningKeyEvents, dbtypes.KeyStakingModulesAddresses, known)
	})
}

// EarliestForPubkey returns the earliest SigningKeyAdded event across ALL
// known modules for the given pubkey, or nil if no module has history for
// it. This backs C7's tie-break rule 1.
func (c *Cache) EarliestForPubkey(pubkey [48]byte) (*domain.SigningKeyAddedEvent, error) {
	var known [][20]byte
	if _, err := c.store.GetState(dbtypes.NamespaceSigningKeyEvents, dbtypes.KeyStakingModulesAddresses, &known); err != nil {
		return nil, err
	}

	var earliest *domain.SigningKeyAddedEvent
	for _, moduleAddress := range known {
		rows, err := c.store.GetSigningKeyEventsForModule(moduleAddress[:])
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if [48]byte(toArr48(rows[i].Pubkey)) != pubkey {
				continue
			}
			candidate := &domain.SigningKeyAddedEvent{
				ModuleID:      rows[i].ModuleID,
				BlockNumber:   rows[i].BlockNumber,
				LogIndex:      rows[i].LogIndex,
				OperatorIndex: rows[i].OperatorIndex,
			}
			copy(candidate.ModuleAddress[:], rows[i].ModuleAddress)
			candidate.Pubkey = pubkey

			if earliest == nil || candidate.EarlierThan(earliest) {
				earliest = candidate
			}
		}
	}

	return earliest, nil
}

func toArr48(b []byte) [48]byte {
	var out [48]byte
	copy(out[:], b)
	return out
}

// Package depositcache implements C2, the persistent cache of verified
// deposit events, on top of internal/db. It mirrors dora's
// persistFinalizedDepositTxs/GetExplorerState convention: one atomic write
// batch per update, one JSON-encoded header/lastValidEvent record.
package depositcache

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lidofinance/council-daemon/internal/db"
	"github.com/lidofinance/council-daemon/internal/dbtypes"
	"github.com/lidofinance/council-daemon/internal/domain"
)

// Cache is the C2 deposit event store.
type Cache struct {
	store           *db.Store
	deploymentBlock uint64
}

// New wraps a Store, pinning the deposit contract's deployment block as the
// floor for StartBlock on every read (spec.md §4.2).
func New(store *db.Store, deploymentBlock uint64) *Cache {
	return &Cache{store: store, deploymentBlock: deploymentBlock}
}

// GetEventsCache returns the ordered cache, defaulting to
// DEPOSIT_CACHE_DEFAULT when nothing has been persisted yet.
func (c *Cache) GetEventsCache() (domain.DepositEventCache, error) {
	cache := domain.DepositCacheDefault()

	var header domain.CacheHeader
	found, err := c.store.GetState(dbtypes.NamespaceDepositEvents, "header", &header)
	if err != nil {
		return cache, err
	}
	if found {
		cache.Headers = header
	}
	if cache.Headers.StartBlock < c.deploymentBlock {
		cache.Headers.StartBlock = c.deploymentBlock
	}

	rows, err := c.store.GetDepositEvents()
	if err != nil {
		return cache, err
	}
	for i := range rows {
		cache.Data = append(cache.Data, rowToEvent(&rows[i]))
	}

	var lastValid dbtypes.DepositEventRow
	foundLast, err := c.store.GetState(dbtypes.NamespaceDepositEvents, dbtypes.KeyLastValidEvent, &lastValid)
	if err != nil {
		return cache, err
	}
	if foundLast {
		cache.LastValidEvent = rowToEvent(&lastValid)
	}

	return cache, nil
}

// InsertEventsCacheBatch atomically persists a new header plus the given
// events, per spec.md §4.2.
func (c *Cache) InsertEventsCacheBatch(header domain.CacheHeader, events []*domain.VerifiedDepositEvent) error {
	if header.StartBlock > header.EndBlock {
		return fmt.Errorf("invalid cache header: startBlock %v > endBlock %v", header.StartBlock, header.EndBlock)
	}

	rows := make([]dbtypes.DepositEventRow, len(events))
	for i, e := range events {
		rows[i] = eventToRow(e)
	}

	return c.store.RunTransaction(func(tx *sqlx.Tx) error {
		if err := c.store.InsertDepositEventsBatch(tx, rows); err != nil {
			return err
		}
		if err := c.store.SetState(tx, dbtypes.NamespaceDepositEvents, "header", header); err != nil {
			return err
		}
		return nil
	})
}

// SetLastValidEvent persists the most recent event whose integrity check
// (C4) passed, atomically, within the caller's transaction.
func (c *Cache) SetLastValidEvent(tx *sqlx.Tx, event *domain.VerifiedDepositEvent) error {
	return c.store.SetState(tx, dbtypes.NamespaceDepositEvents, dbtypes.KeyLastValidEvent, eventToRow(event))
}

// RunTransaction exposes the underlying store's transaction helper so C4 can
// combine event inserts with a lastValidEvent update atomically.
func (c *Cache) RunTransaction(fn func(tx *sqlx.Tx) error) error {
	return c.store.RunTransaction(fn)
}

func eventToRow(e *domain.VerifiedDepositEvent) dbtypes.DepositEventRow {
	return dbtypes.DepositEventRow{
		BlockNumber:           e.BlockNumber,
		LogIndex:              e.LogIndex,
		BlockHash:             e.BlockHash[:],
		Pubkey:                e.Pubkey[:],
		WithdrawalCredentials: e.WithdrawalCredentials[:],
		AmountGwei:            e.AmountGwei,
		Signature:             e.Signature[:],
		DepositCount:          e.DepositCount,
		DepositDataRoot:       e.DepositDataRoot[:],
		TxHash:                e.TxHash[:],
		Valid:                 e.Valid,
	}
}

func rowToEvent(r *dbtypes.DepositEventRow) *domain.VerifiedDepositEvent {
	e := &domain.VerifiedDepositEvent{
		BlockNumber:  r.BlockNumber,
		LogIndex:     r.LogIndex,
		AmountGwei:   r.AmountGwei,
		DepositCount: r.DepositCount,
		Valid:        r.Valid,
	}
	copy(e.BlockHash[:], r.BlockHash)
	copy(e.Pubkey[:], r.Pubkey)
	copy(e.WithdrawalCredentials[:], r.WithdrawalCredentials)
	copy(e.Signature[:], r.Signature)
	copy(e.DepositDataRoot[:], r.DepositDataRoot)
	copy(e.TxHash[:], r.TxHash)
	return e
}

// Package cache persists the last-known representation of agent runs
// per organization, so the dashboard can render without a network
// round trip. Entries are whole-record replacements over a key/value
// store; there is no partial merging.
package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"agentdeck/internal/storage"
	"agentdeck/internal/types"
	"agentdeck/log"
	apperrors "agentdeck/pkg/errors"
)

// EntryVersion tags the cache format for forward compatibility.
const EntryVersion = "1"

const (
	runsKeyPrefix      = "agent_runs:"
	syncStateKeyPrefix = "agent_runs_sync:"
)

// Entry wraps a cached run with write metadata.
type Entry struct {
	Data      types.RunRecord `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Version   string          `json:"version"`
}

// SyncStatus is the per-organization synchronization state.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "IDLE"
	SyncStatusSyncing SyncStatus = "SYNCING"
	SyncStatusSuccess SyncStatus = "SUCCESS"
	SyncStatusError   SyncStatus = "ERROR"
)

// SyncState records the outcome of the most recent reconciliation
// attempt for an organization.
type SyncState struct {
	Status   SyncStatus `json:"status"`
	LastSync time.Time  `json:"last_sync"`
	Error    string     `json:"error,omitempty"`
}

// Cache is the per-organization run cache. All mutation goes through a
// single mutex so concurrent pollers cannot interleave a
// read-modify-write on the same collection.
type Cache struct {
	store storage.KV

	mu  sync.Mutex
	now func() time.Time
}

func New(store storage.KV) *Cache {
	return &Cache{
		store: store,
		now:   time.Now,
	}
}

func runsKey(organizationId string) string {
	return runsKeyPrefix + organizationId
}

func syncStateKey(organizationId string) string {
	return syncStateKeyPrefix + organizationId
}

// GetEntities returns the cached runs for an organization, newest
// created first. It never fails: a missing collection yields an empty
// slice, and a corrupted one is logged and dropped rather than
// propagated.
func (c *Cache) GetEntities(organizationId string) []types.RunRecord {
	raw, ok, err := c.store.Read(runsKey(organizationId))
	if err != nil {
		log.GetLogger().Error("[Cache] read failed",
			zap.String("organization_id", organizationId),
			zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.GetLogger().Error("[Cache] corrupted collection dropped",
			zap.String("organization_id", organizationId),
			zap.Error(apperrors.Wrap(apperrors.CodeCacheCorrupted, "unmarshal cached runs", err)))
		return nil
	}

	return lo.Map(entries, func(entry Entry, _ int) types.RunRecord {
		return entry.Data
	})
}

// SetEntities replaces the whole cached collection for an organization.
func (c *Cache) SetEntities(organizationId string, records []types.RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setEntitiesLocked(organizationId, records)
}

func (c *Cache) setEntitiesLocked(organizationId string, records []types.RunRecord) error {
	sorted := make([]types.RunRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreateTime.After(sorted[j].CreateTime)
	})

	now := c.now()
	entries := lo.Map(sorted, func(record types.RunRecord, _ int) Entry {
		return Entry{Data: record, Timestamp: now, Version: EntryVersion}
	})

	raw, err := json.Marshal(entries)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCacheWrite, "marshal cached runs", err)
	}
	if err := c.store.Write(runsKey(organizationId), string(raw)); err != nil {
		return apperrors.Wrap(apperrors.CodeCacheWrite, "write cached runs", err)
	}
	return nil
}

// UpsertEntity replaces the cached record with a matching id, or
// prepends the record when it is new. The stored record is fully
// replaced; no fields survive from the previous entry.
func (c *Cache) UpsertEntity(organizationId string, record types.RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.GetEntities(organizationId)
	if index := lo.IndexOf(lo.Map(records, func(r types.RunRecord, _ int) string { return r.Id }), record.Id); index >= 0 {
		records[index] = record
	} else {
		records = append([]types.RunRecord{record}, records...)
	}
	return c.setEntitiesLocked(organizationId, records)
}

// RemoveEntity deletes the cached record with the given id, if present.
func (c *Cache) RemoveEntity(organizationId, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := c.GetEntities(organizationId)
	remaining := lo.Filter(records, func(r types.RunRecord, _ int) bool {
		return r.Id != id
	})
	if len(remaining) == len(records) {
		return nil
	}
	return c.setEntitiesLocked(organizationId, remaining)
}

// GetSyncState returns the organization's sync state, defaulting to
// IDLE when none has been recorded.
func (c *Cache) GetSyncState(organizationId string) SyncState {
	raw, ok, err := c.store.Read(syncStateKey(organizationId))
	if err != nil || !ok {
		if err != nil {
			log.GetLogger().Error("[Cache] read sync state failed",
				zap.String("organization_id", organizationId),
				zap.Error(err))
		}
		return SyncState{Status: SyncStatusIdle}
	}

	var state SyncState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		log.GetLogger().Error("[Cache] corrupted sync state dropped",
			zap.String("organization_id", organizationId),
			zap.Error(err))
		return SyncState{Status: SyncStatusIdle}
	}
	return state
}

// SetSyncState records the organization's sync state.
func (c *Cache) SetSyncState(organizationId string, state SyncState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCacheWrite, "marshal sync state", err)
	}
	if err := c.store.Write(syncStateKey(organizationId), string(raw)); err != nil {
		return apperrors.Wrap(apperrors.CodeCacheWrite, "write sync state", err)
	}
	return nil
}

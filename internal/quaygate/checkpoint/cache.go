package checkpoint

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/quaygate/quaygate/internal/quaygate/policy"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

const cacheShards = 16

// CacheEntry is one worker's state at this checkpoint. Tombstones are
// kept (record zeroed) so a delete can never be undone by a stale
// replay of an older put.
type CacheEntry struct {
	Record    types.WorkerRecord `json:"record"`
	Version   uint64             `json:"version"`
	Tombstone bool               `json:"tombstone"`
}

// Persister stores the cache contents at rest. Implementations must
// fail loudly: an unreadable store makes the whole cache unusable and
// the checkpoint falls back to live queries (or denies).
type Persister interface {
	Load() (map[string]CacheEntry, error)
	Save(map[string]CacheEntry) error
}

// Cache is the checkpoint-local replica of worker records. Reads
// (authentication) and writes (sync) contend per shard, keyed by
// worker id, so one slow sync write never stalls an unrelated access
// decision. A separate credential index maps card reads to worker ids.
type Cache struct {
	shards [cacheShards]cacheShard

	credMu sync.RWMutex
	cred   map[string]string // credential id → worker id

	saveMu    sync.Mutex
	persister Persister
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry // worker id → entry
}

// NewCache loads the persisted contents, if any. A load error is a
// storage fault: the caller must not fall back to an empty cache, that
// would silently turn every credential into a cache miss against a
// store that may still hold tombstones.
func NewCache(p Persister) (*Cache, error) {
	c := &Cache{persister: p, cred: make(map[string]string)}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]CacheEntry)
	}
	if p == nil {
		return c, nil
	}
	loaded, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	for id, e := range loaded {
		sh := c.shard(id)
		sh.entries[id] = e
		if !e.Tombstone && e.Record.CredentialID != "" {
			c.cred[e.Record.CredentialID] = id
		}
	}
	return c, nil
}

func (c *Cache) shard(workerID string) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(workerID))
	return &c.shards[h.Sum32()%cacheShards]
}

// Apply installs a mutation if its version is strictly newer than what
// the cache holds for that worker. Stale and duplicate deliveries are
// dropped, which is what makes redelivery acks idempotent.
func (c *Cache) Apply(m types.Mutation) (types.ApplyStatus, error) {
	sh := c.shard(m.WorkerID)
	sh.mu.Lock()

	prev, had := sh.entries[m.WorkerID]
	if had && m.Version <= prev.Version {
		sh.mu.Unlock()
		return types.ApplyStale, nil
	}

	status := types.ApplyApplied
	switch m.Op {
	case types.OpTombstone:
		sh.entries[m.WorkerID] = CacheEntry{Version: m.Version, Tombstone: true}
		if had {
			status = types.ApplyEvicted
		}
	case types.OpPut:
		sh.entries[m.WorkerID] = CacheEntry{Record: *m.Record, Version: m.Version}
	default:
		sh.mu.Unlock()
		return "", types.ErrBadMutation
	}
	sh.mu.Unlock()

	c.credMu.Lock()
	if had && !prev.Tombstone && prev.Record.CredentialID != "" {
		delete(c.cred, prev.Record.CredentialID)
	}
	if m.Op == types.OpPut {
		c.cred[m.Record.CredentialID] = m.WorkerID
	}
	c.credMu.Unlock()

	if err := c.persist(); err != nil {
		return status, err
	}
	return status, nil
}

// AdmitPull installs a record fetched on a cache miss. Unlike Apply it
// is silently superseded by any already-held newer version, including
// a tombstone — a pull response that raced a delete must not resurrect
// the worker.
func (c *Cache) AdmitPull(rec types.WorkerRecord) error {
	_, err := c.Apply(types.Mutation{
		Op:       types.OpPut,
		WorkerID: rec.WorkerID,
		Version:  rec.Version,
		Record:   &rec,
	})
	if err != nil && err != types.ErrBadMutation {
		return err
	}
	return nil
}

// LookupCredential resolves a presented credential to a cached record.
// Tombstoned workers are reported as absent.
func (c *Cache) LookupCredential(credentialID string) (types.WorkerRecord, bool) {
	c.credMu.RLock()
	workerID, ok := c.cred[credentialID]
	c.credMu.RUnlock()
	if !ok {
		return types.WorkerRecord{}, false
	}

	sh := c.shard(workerID)
	sh.mu.RLock()
	e, ok := sh.entries[workerID]
	sh.mu.RUnlock()
	if !ok || e.Tombstone || e.Record.CredentialID != credentialID {
		return types.WorkerRecord{}, false
	}
	return e.Record, true
}

// Evict removes a record that no longer satisfies the lane policy,
// bumping nothing:
// the held version is kept as a tombstone so the next sync push is
// still ordered correctly. Used by the authentication-time re-check.
func (c *Cache) Evict(workerID string) {
	sh := c.shard(workerID)
	sh.mu.Lock()
	e, ok := sh.entries[workerID]
	if ok && !e.Tombstone {
		sh.entries[workerID] = CacheEntry{Version: e.Version, Tombstone: true}
	}
	sh.mu.Unlock()
	if !ok || e.Tombstone {
		return
	}

	c.credMu.Lock()
	delete(c.cred, e.Record.CredentialID)
	c.credMu.Unlock()

	_ = c.persist() // eviction holds even if the disk write fails
}

// EvictViolations drops every entry that no longer satisfies pol.
// Called when the checkpoint's own policy changes.
func (c *Cache) EvictViolations(pol types.CheckpointPolicy) int {
	var evicted []string
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		for id, e := range sh.entries {
			if !e.Tombstone && !policy.Admit(e.Record, pol) {
				evicted = append(evicted, id)
			}
		}
		sh.mu.RUnlock()
	}
	for _, id := range evicted {
		c.Evict(id)
	}
	return len(evicted)
}

// Len counts live (non-tombstone) entries.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		for _, e := range sh.entries {
			if !e.Tombstone {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}

func (c *Cache) persist() error {
	if c.persister == nil {
		return nil
	}
	// Snapshot under shard read locks, write under a single save lock so
	// concurrent mutations serialize their disk writes.
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	snap := make(map[string]CacheEntry)
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		for id, e := range sh.entries {
			snap[id] = e
		}
		sh.mu.RUnlock()
	}
	if err := c.persister.Save(snap); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}

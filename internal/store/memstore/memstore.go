// Package memstore is an in-process implementation of every storage port.
// Appends are serialised by one mutex per tenant; it is meant for tests and
// single-process tooling.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lzjever/ledgerseal/internal/core"
)

// MigrationID is reported as the latest applied migration.
const MigrationID = "memstore"

type rowKey struct {
	tenant, table, id string
}

type Store struct {
	mu          sync.RWMutex
	tenantLocks map[string]*sync.Mutex
	events      map[string][]core.AuditEvent
	packs       map[string]core.EvidencePack
	packOrder   []string
	proofPacks  []core.GovernanceProofPack
	rows        map[rowKey]json.RawMessage
}

func New() *Store {
	return &Store{
		tenantLocks: make(map[string]*sync.Mutex),
		events:      make(map[string][]core.AuditEvent),
		packs:       make(map[string]core.EvidencePack),
		rows:        make(map[rowKey]json.RawMessage),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.tenantLocks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		s.tenantLocks[tenantID] = l
	}
	return l
}

// AppendChained holds the tenant lock across tail read, build and insert.
func (s *Store) AppendChained(ctx context.Context, tenantID string, build func(tail core.ChainHead) (core.AuditEvent, error)) (core.AuditEvent, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return core.AuditEvent{}, err
	}
	tail, err := s.ChainHead(ctx, tenantID)
	if err != nil {
		return core.AuditEvent{}, err
	}
	evt, err := build(tail)
	if err != nil {
		return core.AuditEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.linkLocked(tenantID, evt); err != nil {
		return core.AuditEvent{}, err
	}
	return evt, nil
}

// linkLocked appends evt to the tenant chain. The caller holds s.mu.
func (s *Store) linkLocked(tenantID string, evt core.AuditEvent) error {
	chain := s.events[tenantID]
	if evt.Seq != int64(len(chain))+1 || (len(chain) > 0 && chain[len(chain)-1].Hash != evt.PreviousHash) {
		return core.ErrChainConflict
	}
	s.events[tenantID] = append(chain, evt)
	return nil
}

func (s *Store) ListEvents(_ context.Context, tenantID string, afterSeq int64, limit int) ([]core.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.events[tenantID]
	out := []core.AuditEvent{}
	for _, e := range chain {
		if e.Seq <= afterSeq {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) ListEventsByTarget(_ context.Context, tenantID, targetID string, limit int) ([]core.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.AuditEvent{}
	for _, e := range s.events[tenantID] {
		if e.TargetID != targetID {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) ListTerminalEvents(_ context.Context, tenantID string, actions []string) ([]core.AuditEvent, error) {
	want := toSet(actions)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.AuditEvent{}
	for _, e := range s.events[tenantID] {
		if want[e.Action] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) CountTerminalEvents(_ context.Context, tenantID string, actions []string) (map[string]int64, *time.Time, error) {
	want := toSet(actions)
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	var last *time.Time
	for _, e := range s.events[tenantID] {
		if !want[e.Action] {
			continue
		}
		counts[e.Action]++
		if last == nil || e.CreatedAt.After(*last) {
			t := e.CreatedAt
			last = &t
		}
	}
	return counts, last, nil
}

func (s *Store) GetEvent(_ context.Context, tenantID, eventID string) (core.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events[tenantID] {
		if e.ID == eventID {
			return e, nil
		}
	}
	return core.AuditEvent{}, core.ErrRecordNotFound
}

func (s *Store) ChainHead(_ context.Context, tenantID string) (core.ChainHead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return headOf(tenantID, s.events[tenantID]), nil
}

func (s *Store) ChainHeads(context.Context) ([]core.ChainHead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	heads := make([]core.ChainHead, 0, len(s.events))
	for tenant, chain := range s.events {
		if len(chain) > 0 {
			heads = append(heads, headOf(tenant, chain))
		}
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i].TenantID < heads[j].TenantID })
	return heads, nil
}

func (s *Store) ListTenants(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for tenant, chain := range s.events {
		if len(chain) > 0 {
			seen[tenant] = true
		}
	}
	for _, p := range s.packs {
		seen[p.TenantID] = true
	}
	tenants := make([]string, 0, len(seen))
	for tenant := range seen {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func headOf(tenantID string, chain []core.AuditEvent) core.ChainHead {
	if len(chain) == 0 {
		return core.ChainHead{TenantID: tenantID, Hash: core.GenesisHash}
	}
	last := chain[len(chain)-1]
	return core.ChainHead{TenantID: tenantID, Seq: last.Seq, Hash: last.Hash, LastEventAt: last.CreatedAt}
}

// OverwriteEvent mutates a stored event in place, bypassing append-only
// protection. Tamper tests only.
func (s *Store) OverwriteEvent(tenantID string, seq int64, mutate func(*core.AuditEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.events[tenantID]
	for i := range chain {
		if chain[i].Seq == seq {
			mutate(&chain[i])
			return nil
		}
	}
	return core.ErrRecordNotFound
}

func (s *Store) CreatePack(_ context.Context, pack core.EvidencePack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packs[pack.ID]; ok {
		return fmt.Errorf("pack %s already exists", pack.ID)
	}
	if pack.IdempotencyKey != "" {
		for _, p := range s.packs {
			if p.TenantID == pack.TenantID && p.IdempotencyKey == pack.IdempotencyKey {
				return core.ErrIdempotencyConflict
			}
		}
	}
	s.packs[pack.ID] = clonePack(pack)
	s.packOrder = append(s.packOrder, pack.ID)
	return nil
}

func (s *Store) GetPack(_ context.Context, tenantID, packID string) (core.EvidencePack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packs[packID]
	if !ok || p.TenantID != tenantID {
		return core.EvidencePack{}, core.ErrRecordNotFound
	}
	return clonePack(p), nil
}

func (s *Store) FindPackByIdempotencyKey(_ context.Context, tenantID, key string) (core.EvidencePack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.packOrder {
		p := s.packs[id]
		if p.TenantID == tenantID && p.IdempotencyKey == key {
			return clonePack(p), nil
		}
	}
	return core.EvidencePack{}, core.ErrRecordNotFound
}

func (s *Store) ListPacks(_ context.Context, f core.PackFilter) ([]core.EvidencePack, error) {
	statuses := make(map[core.PackStatus]bool, len(f.Status))
	for _, st := range f.Status {
		statuses[st] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.EvidencePack{}
	for _, id := range s.packOrder {
		p := s.packs[id]
		switch {
		case f.TenantID != "" && p.TenantID != f.TenantID:
			continue
		case len(statuses) > 0 && !statuses[p.Status]:
			continue
		case f.TriggerEventID != "" && p.TriggerEventID != f.TriggerEventID:
			continue
		case f.VerifiedBefore != nil && p.VerifiedAt != nil && !p.VerifiedAt.Before(*f.VerifiedBefore):
			continue
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		out = append(out, clonePack(p))
	}
	return out, nil
}

// UpdatePackStatus changes only the mutable verification columns.
func (s *Store) UpdatePackStatus(_ context.Context, tenantID, packID string, status core.PackStatus, integrity core.ChainIntegrity, verifiedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packs[packID]
	if !ok || p.TenantID != tenantID {
		return core.ErrRecordNotFound
	}
	p.Status = status
	p.ChainIntegrity = integrity
	t := verifiedAt.UTC()
	p.VerifiedAt = &t
	s.packs[packID] = p
	return nil
}

// OverwritePack mutates a stored pack in place. Tamper tests only.
func (s *Store) OverwritePack(packID string, mutate func(*core.EvidencePack)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packs[packID]
	if !ok {
		return core.ErrRecordNotFound
	}
	mutate(&p)
	s.packs[packID] = p
	return nil
}

func clonePack(p core.EvidencePack) core.EvidencePack {
	p.Artifacts = append([]core.EvidenceArtifact(nil), p.Artifacts...)
	if p.Metadata != nil {
		m := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			m[k] = v
		}
		p.Metadata = m
	}
	if p.VerifiedAt != nil {
		t := *p.VerifiedAt
		p.VerifiedAt = &t
	}
	return p
}

func (s *Store) InsertProofPack(_ context.Context, pp core.GovernanceProofPack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.proofPacks {
		if existing.ID == pp.ID {
			return core.ErrAppendOnly
		}
	}
	pp.Payload = append([]byte(nil), pp.Payload...)
	s.proofPacks = append(s.proofPacks, pp)
	return nil
}

func (s *Store) LatestProofPack(context.Context) (core.GovernanceProofPack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.proofPacks) == 0 {
		return core.GovernanceProofPack{}, core.ErrRecordNotFound
	}
	return s.proofPacks[len(s.proofPacks)-1], nil
}

func (s *Store) LatestMigration(context.Context) (string, error) {
	return MigrationID, nil
}

func (s *Store) ReadRow(_ context.Context, tenantID, table, id string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[rowKey{tenantID, table, id}]
	if !ok {
		return nil, core.ErrRecordNotFound
	}
	return append(json.RawMessage(nil), row...), nil
}

type rowOp int

const (
	rowInsert rowOp = iota
	rowUpdate
	rowDelete
)

func (s *Store) InsertRow(ctx context.Context, tenantID, table, id string, row json.RawMessage, build core.RowEventBuilder) (core.AuditEvent, error) {
	return s.writeRow(ctx, rowKey{tenantID, table, id}, rowInsert, row, build)
}

func (s *Store) UpdateRow(ctx context.Context, tenantID, table, id string, row json.RawMessage, build core.RowEventBuilder) (core.AuditEvent, error) {
	return s.writeRow(ctx, rowKey{tenantID, table, id}, rowUpdate, row, build)
}

func (s *Store) DeleteRow(ctx context.Context, tenantID, table, id string, build core.RowEventBuilder) (core.AuditEvent, error) {
	return s.writeRow(ctx, rowKey{tenantID, table, id}, rowDelete, nil, build)
}

// writeRow holds the tenant lock from the prior-snapshot read until the row
// and its event are stored together. A failing build stores nothing.
func (s *Store) writeRow(ctx context.Context, k rowKey, op rowOp, row json.RawMessage, build core.RowEventBuilder) (core.AuditEvent, error) {
	lock := s.tenantLock(k.tenant)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return core.AuditEvent{}, err
	}
	s.mu.RLock()
	before, exists := s.rows[k]
	tail := headOf(k.tenant, s.events[k.tenant])
	s.mu.RUnlock()
	switch {
	case op == rowInsert && exists:
		return core.AuditEvent{}, fmt.Errorf("row %s/%s already exists", k.table, k.id)
	case op != rowInsert && !exists:
		return core.AuditEvent{}, core.ErrRecordNotFound
	}

	evt, err := build(append(json.RawMessage(nil), before...), tail)
	if err != nil {
		return core.AuditEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.linkLocked(k.tenant, evt); err != nil {
		return core.AuditEvent{}, err
	}
	if op == rowDelete {
		delete(s.rows, k)
	} else {
		s.rows[k] = append(json.RawMessage(nil), row...)
	}
	return evt, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

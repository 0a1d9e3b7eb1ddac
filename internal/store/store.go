// Package store is the Postgres implementation of the ledger, evidence,
// proof and governance storage ports.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lzjever/ledgerseal/internal/core"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const eventColumns = `event_id, org_id, seq, actor_id, actor_role, action, target_type, target_id,
	before_json, after_json, correlation_id, hash, previous_hash, created_at`

// AppendChained serialises appends per tenant with a transaction-scoped
// advisory lock and reads the tail inside the same transaction.
func (s *Store) AppendChained(ctx context.Context, tenantID string, build func(tail core.ChainHead) (core.AuditEvent, error)) (core.AuditEvent, error) {
	var evt core.AuditEvent
	err := s.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		evt, err = insertChained(ctx, tx, tenantID, build)
		return err
	})
	if err != nil {
		return core.AuditEvent{}, mapError(err)
	}
	return evt, nil
}

// inTenantTx runs fn in a transaction holding the tenant's append lock.
func (s *Store) inTenantTx(ctx context.Context, tenantID string, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "ledger:"+tenantID); err != nil {
			return fmt.Errorf("acquire tenant lock: %w", err)
		}
		return fn(tx)
	})
}

func insertChained(ctx context.Context, tx pgx.Tx, tenantID string, build func(tail core.ChainHead) (core.AuditEvent, error)) (core.AuditEvent, error) {
	tail, err := chainHead(ctx, tx, tenantID)
	if err != nil {
		return core.AuditEvent{}, err
	}
	evt, err := build(tail)
	if err != nil {
		return core.AuditEvent{}, err
	}
	_, err = tx.Exec(ctx, `INSERT INTO audit_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		evt.ID, evt.TenantID, evt.Seq, evt.ActorID, nullString(evt.ActorRole), evt.Action,
		evt.TargetType, evt.TargetID, nullJSON(evt.Before), nullJSON(evt.After),
		nullString(evt.CorrelationID), evt.Hash, evt.PreviousHash, evt.CreatedAt,
	)
	if err != nil {
		return core.AuditEvent{}, err
	}
	return evt, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func chainHead(ctx context.Context, q querier, tenantID string) (core.ChainHead, error) {
	head := core.ChainHead{TenantID: tenantID}
	err := q.QueryRow(ctx, `SELECT seq, hash, created_at FROM audit_events
		WHERE org_id = $1 ORDER BY seq DESC LIMIT 1`, tenantID).Scan(&head.Seq, &head.Hash, &head.LastEventAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ChainHead{TenantID: tenantID, Hash: core.GenesisHash}, nil
	}
	if err != nil {
		return core.ChainHead{}, fmt.Errorf("read chain tail: %w", err)
	}
	head.LastEventAt = head.LastEventAt.UTC()
	return head, nil
}

func (s *Store) ChainHead(ctx context.Context, tenantID string) (core.ChainHead, error) {
	return chainHead(ctx, s.pool, tenantID)
}

func (s *Store) ChainHeads(ctx context.Context) ([]core.ChainHead, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ON (org_id) org_id, seq, hash, created_at
		FROM audit_events ORDER BY org_id, seq DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ChainHead, error) {
		var h core.ChainHead
		err := row.Scan(&h.TenantID, &h.Seq, &h.Hash, &h.LastEventAt)
		h.LastEventAt = h.LastEventAt.UTC()
		return h, err
	})
}

func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT org_id FROM audit_events
		UNION SELECT org_id FROM evidence_packs ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanEvent(row pgx.CollectableRow) (core.AuditEvent, error) {
	var (
		e                 core.AuditEvent
		role, correlation *string
		before, after     []byte
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.Seq, &e.ActorID, &role, &e.Action, &e.TargetType, &e.TargetID,
		&before, &after, &correlation, &e.Hash, &e.PreviousHash, &e.CreatedAt)
	if err != nil {
		return core.AuditEvent{}, err
	}
	e.ActorRole = deref(role)
	e.CorrelationID = deref(correlation)
	if before != nil {
		e.Before = json.RawMessage(before)
	}
	if after != nil {
		e.After = json.RawMessage(after)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]core.AuditEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE org_id = $1 AND seq > $2 ORDER BY seq LIMIT $3`, tenantID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEvent)
}

func (s *Store) ListEventsByTarget(ctx context.Context, tenantID, targetID string, limit int) ([]core.AuditEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE org_id = $1 AND target_id = $2 ORDER BY seq LIMIT $3`, tenantID, targetID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEvent)
}

func (s *Store) ListTerminalEvents(ctx context.Context, tenantID string, actions []string) ([]core.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE org_id = $1 AND action = ANY($2) ORDER BY seq`, tenantID, actions)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEvent)
}

func (s *Store) CountTerminalEvents(ctx context.Context, tenantID string, actions []string) (map[string]int64, *time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT action, count(*), max(created_at) FROM audit_events
		WHERE org_id = $1 AND action = ANY($2) GROUP BY action`, tenantID, actions)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	var last *time.Time
	for rows.Next() {
		var (
			action string
			n      int64
			at     time.Time
		)
		if err := rows.Scan(&action, &n, &at); err != nil {
			return nil, nil, err
		}
		counts[action] = n
		if at = at.UTC(); last == nil || at.After(*last) {
			last = &at
		}
	}
	return counts, last, rows.Err()
}

func (s *Store) GetEvent(ctx context.Context, tenantID, eventID string) (core.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE org_id = $1 AND event_id = $2`, tenantID, eventID)
	if err != nil {
		return core.AuditEvent{}, err
	}
	evt, err := pgx.CollectExactlyOneRow(rows, scanEvent)
	return evt, mapError(err)
}

const packColumns = `pack_id, org_id, evidence_type, subject_id, trigger_event_id, event_type,
	merkle_root, pack_digest, seal_signature, seal_key_id, metadata, status, hash_chain_start,
	hash_chain_end, chain_integrity, idempotency_key, request_hash, created_at, verified_at`

func (s *Store) CreatePack(ctx context.Context, p core.EvidencePack) error {
	metadata, err := json.Marshal(nonNilMap(p.Metadata))
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO evidence_packs (`+packColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
			p.ID, p.TenantID, string(p.EvidenceType), p.SubjectID, nullString(p.TriggerEventID), nullString(p.EventType),
			p.MerkleRoot, p.PackDigest, p.Seal.Signature, p.Seal.KeyID, string(metadata), string(p.Status),
			nullString(p.HashChainStart), nullString(p.HashChainEnd), string(p.ChainIntegrity),
			nullString(p.IdempotencyKey), nullString(p.RequestHash), p.CreatedAt, p.VerifiedAt,
		)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, a := range p.Artifacts {
			batch.Queue(`INSERT INTO evidence_artifacts (pack_id, position, name, sha256, payload, content_path)
				VALUES ($1, $2, $3, $4, $5, $6)`, p.ID, i, a.Name, a.SHA256, nullJSON(a.Payload), nullString(a.ContentPath))
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return mapError(err)
}

func scanPack(row pgx.CollectableRow) (core.EvidencePack, error) {
	var (
		p                                        core.EvidencePack
		evType, status, integrity                string
		trigger, eventType, start, end, idem, rh *string
		metadata                                 []byte
	)
	err := row.Scan(&p.ID, &p.TenantID, &evType, &p.SubjectID, &trigger, &eventType,
		&p.MerkleRoot, &p.PackDigest, &p.Seal.Signature, &p.Seal.KeyID, &metadata, &status, &start,
		&end, &integrity, &idem, &rh, &p.CreatedAt, &p.VerifiedAt)
	if err != nil {
		return core.EvidencePack{}, err
	}
	p.EvidenceType = core.EvidenceType(evType)
	p.Status = core.PackStatus(status)
	p.ChainIntegrity = core.ChainIntegrity(integrity)
	p.TriggerEventID, p.EventType = deref(trigger), deref(eventType)
	p.HashChainStart, p.HashChainEnd = deref(start), deref(end)
	p.IdempotencyKey, p.RequestHash = deref(idem), deref(rh)
	if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
		return core.EvidencePack{}, fmt.Errorf("decode metadata: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	if p.VerifiedAt != nil {
		t := p.VerifiedAt.UTC()
		p.VerifiedAt = &t
	}
	return p, nil
}

// loadArtifacts attaches artifacts, in position order, to packs.
func (s *Store) loadArtifacts(ctx context.Context, packs []core.EvidencePack) error {
	if len(packs) == 0 {
		return nil
	}
	ids := make([]string, len(packs))
	index := make(map[string]int, len(packs))
	for i, p := range packs {
		ids[i] = p.ID
		index[p.ID] = i
		packs[i].Artifacts = []core.EvidenceArtifact{}
	}
	rows, err := s.pool.Query(ctx, `SELECT pack_id, name, sha256, payload, content_path
		FROM evidence_artifacts WHERE pack_id = ANY($1) ORDER BY pack_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			packID  string
			a       core.EvidenceArtifact
			payload []byte
			path    *string
		)
		if err := rows.Scan(&packID, &a.Name, &a.SHA256, &payload, &path); err != nil {
			return err
		}
		if payload != nil {
			a.Payload = json.RawMessage(payload)
		}
		a.ContentPath = deref(path)
		i := index[packID]
		packs[i].Artifacts = append(packs[i].Artifacts, a)
	}
	return rows.Err()
}

func (s *Store) GetPack(ctx context.Context, tenantID, packID string) (core.EvidencePack, error) {
	return s.onePack(ctx, `SELECT `+packColumns+` FROM evidence_packs WHERE org_id = $1 AND pack_id = $2`, tenantID, packID)
}

func (s *Store) FindPackByIdempotencyKey(ctx context.Context, tenantID, key string) (core.EvidencePack, error) {
	return s.onePack(ctx, `SELECT `+packColumns+` FROM evidence_packs WHERE org_id = $1 AND idempotency_key = $2`, tenantID, key)
}

func (s *Store) onePack(ctx context.Context, sql string, args ...any) (core.EvidencePack, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return core.EvidencePack{}, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPack)
	if err != nil {
		return core.EvidencePack{}, mapError(err)
	}
	packs := []core.EvidencePack{p}
	if err := s.loadArtifacts(ctx, packs); err != nil {
		return core.EvidencePack{}, err
	}
	return packs[0], nil
}

func (s *Store) ListPacks(ctx context.Context, f core.PackFilter) ([]core.EvidencePack, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.TenantID != "" {
		add("org_id = $%d", f.TenantID)
	}
	if len(f.Status) > 0 {
		statuses := make([]string, len(f.Status))
		for i, st := range f.Status {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.TriggerEventID != "" {
		add("trigger_event_id = $%d", f.TriggerEventID)
	}
	if f.VerifiedBefore != nil {
		add("(verified_at IS NULL OR verified_at < $%d)", *f.VerifiedBefore)
	}
	sql := `SELECT ` + packColumns + ` FROM evidence_packs`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at, pack_id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	packs, err := pgx.CollectRows(rows, scanPack)
	if err != nil {
		return nil, err
	}
	if err := s.loadArtifacts(ctx, packs); err != nil {
		return nil, err
	}
	return packs, nil
}

// UpdatePackStatus writes only the verification columns; the guard trigger
// rejects any other change.
func (s *Store) UpdatePackStatus(ctx context.Context, tenantID, packID string, status core.PackStatus, integrity core.ChainIntegrity, verifiedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE evidence_packs
		SET status = $3, chain_integrity = $4, verified_at = $5
		WHERE org_id = $1 AND pack_id = $2`, tenantID, packID, string(status), string(integrity), verifiedAt.UTC())
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrRecordNotFound
	}
	return nil
}

func (s *Store) InsertProofPack(ctx context.Context, pp core.GovernanceProofPack) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO governance_proof_packs (
			proof_pack_id, generated_at, contract_test_fingerprint, ci_status, migration_id,
			audit_chain_digest, scan_status, red_team_summary, signature_hash, key_id, immutable, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		pp.ID, pp.GeneratedAt, pp.Signals.ContractTestFingerprint, pp.Signals.CIStatus, pp.Signals.MigrationID,
		pp.Signals.AuditChainDigest, pp.Signals.ScanStatus, pp.Signals.RedTeamSummary,
		pp.SignatureHash, pp.KeyID, pp.Immutable, pp.Payload,
	)
	return mapError(err)
}

func (s *Store) LatestProofPack(ctx context.Context) (core.GovernanceProofPack, error) {
	var pp core.GovernanceProofPack
	err := s.pool.QueryRow(ctx, `SELECT proof_pack_id, generated_at, contract_test_fingerprint, ci_status,
			migration_id, audit_chain_digest, scan_status, red_team_summary, signature_hash, key_id, immutable, payload
		FROM governance_proof_packs ORDER BY generated_at DESC, proof_pack_id DESC LIMIT 1`).Scan(
		&pp.ID, &pp.GeneratedAt, &pp.Signals.ContractTestFingerprint, &pp.Signals.CIStatus,
		&pp.Signals.MigrationID, &pp.Signals.AuditChainDigest, &pp.Signals.ScanStatus, &pp.Signals.RedTeamSummary,
		&pp.SignatureHash, &pp.KeyID, &pp.Immutable, &pp.Payload,
	)
	if err != nil {
		return core.GovernanceProofPack{}, mapError(err)
	}
	pp.GeneratedAt = pp.GeneratedAt.UTC()
	return pp, nil
}

func (s *Store) LatestMigration(ctx context.Context) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM schema_migrations ORDER BY name DESC LIMIT 1`).Scan(&name)
	return name, mapError(err)
}

func (s *Store) ReadRow(ctx context.Context, tenantID, table, id string) (json.RawMessage, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM domain_rows WHERE org_id = $1 AND table_name = $2 AND row_id = $3`,
		tenantID, table, id).Scan(&body)
	if err != nil {
		return nil, mapError(err)
	}
	return json.RawMessage(body), nil
}

func (s *Store) InsertRow(ctx context.Context, tenantID, table, id string, row json.RawMessage, build core.RowEventBuilder) (core.AuditEvent, error) {
	return s.writeRow(ctx, tenantID, build, func(tx pgx.Tx) (json.RawMessage, error) {
		_, err := tx.Exec(ctx, `INSERT INTO domain_rows (org_id, table_name, row_id, body) VALUES ($1, $2, $3, $4)`,
			tenantID, table, id, string(row))
		return nil, err
	})
}

func (s *Store) UpdateRow(ctx context.Context, tenantID, table, id string, row json.RawMessage, build core.RowEventBuilder) (core.AuditEvent, error) {
	return s.writeRow(ctx, tenantID, build, func(tx pgx.Tx) (json.RawMessage, error) {
		before, err := lockRow(ctx, tx, tenantID, table, id)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `UPDATE domain_rows SET body = $4, updated_at = now()
			WHERE org_id = $1 AND table_name = $2 AND row_id = $3`, tenantID, table, id, string(row))
		return before, err
	})
}

func (s *Store) DeleteRow(ctx context.Context, tenantID, table, id string, build core.RowEventBuilder) (core.AuditEvent, error) {
	return s.writeRow(ctx, tenantID, build, func(tx pgx.Tx) (json.RawMessage, error) {
		before, err := lockRow(ctx, tx, tenantID, table, id)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `DELETE FROM domain_rows WHERE org_id = $1 AND table_name = $2 AND row_id = $3`,
			tenantID, table, id)
		return before, err
	})
}

// writeRow applies write and appends the event built from the prior snapshot
// write returns, in one transaction under the tenant lock.
func (s *Store) writeRow(ctx context.Context, tenantID string, build core.RowEventBuilder, write func(pgx.Tx) (json.RawMessage, error)) (core.AuditEvent, error) {
	var evt core.AuditEvent
	err := s.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		before, err := write(tx)
		if err != nil {
			return err
		}
		evt, err = insertChained(ctx, tx, tenantID, func(tail core.ChainHead) (core.AuditEvent, error) {
			return build(before, tail)
		})
		return err
	})
	if err != nil {
		return core.AuditEvent{}, mapError(err)
	}
	return evt, nil
}

func lockRow(ctx context.Context, tx pgx.Tx, tenantID, table, id string) (json.RawMessage, error) {
	var body []byte
	err := tx.QueryRow(ctx, `SELECT body FROM domain_rows
		WHERE org_id = $1 AND table_name = $2 AND row_id = $3 FOR UPDATE`, tenantID, table, id).Scan(&body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

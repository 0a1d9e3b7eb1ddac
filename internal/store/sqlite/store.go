// Package sqlite is a single-file SQLite implementation of the storage
// ports for local and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lzjever/ledgerseal/internal/core"
	"github.com/lzjever/ledgerseal/internal/store"
	"github.com/lzjever/ledgerseal/internal/store/sqlite/migrations"
)

type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and applies migrations. One connection is
// kept so that appends are serialised by the database itself.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		up := store.ExtractUpMigration(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

const eventColumns = `event_id, org_id, seq, actor_id, actor_role, action, target_type, target_id,
	before_json, after_json, correlation_id, hash, previous_hash, created_at`

// AppendChained runs as an immediate transaction, so the tail read and the
// insert happen under SQLite's single writer lock.
func (s *Store) AppendChained(ctx context.Context, tenantID string, build func(tail core.ChainHead) (core.AuditEvent, error)) (core.AuditEvent, error) {
	var evt core.AuditEvent
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		evt, err = insertChained(ctx, tx, tenantID, build)
		return err
	})
	if err != nil {
		return core.AuditEvent{}, err
	}
	return evt, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit())
}

func insertChained(ctx context.Context, tx *sql.Tx, tenantID string, build func(tail core.ChainHead) (core.AuditEvent, error)) (core.AuditEvent, error) {
	tail, err := chainHead(ctx, tx, tenantID)
	if err != nil {
		return core.AuditEvent{}, err
	}
	evt, err := build(tail)
	if err != nil {
		return core.AuditEvent{}, err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.TenantID, evt.Seq, evt.ActorID, nullString(evt.ActorRole), evt.Action,
		evt.TargetType, evt.TargetID, nullJSON(evt.Before), nullJSON(evt.After),
		nullString(evt.CorrelationID), evt.Hash, evt.PreviousHash, evt.CreatedAt.UTC().UnixMicro(),
	)
	if err != nil {
		return core.AuditEvent{}, err
	}
	return evt, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func chainHead(ctx context.Context, q queryRower, tenantID string) (core.ChainHead, error) {
	head := core.ChainHead{TenantID: tenantID}
	var at int64
	err := q.QueryRowContext(ctx, `SELECT seq, hash, created_at FROM audit_events
		WHERE org_id = ? ORDER BY seq DESC LIMIT 1`, tenantID).Scan(&head.Seq, &head.Hash, &at)
	if err == sql.ErrNoRows {
		return core.ChainHead{TenantID: tenantID, Hash: core.GenesisHash}, nil
	}
	if err != nil {
		return core.ChainHead{}, fmt.Errorf("read chain tail: %w", err)
	}
	head.LastEventAt = fromMicros(at)
	return head, nil
}

func (s *Store) ChainHead(ctx context.Context, tenantID string) (core.ChainHead, error) {
	return chainHead(ctx, s.sqlDB, tenantID)
}

func (s *Store) ChainHeads(ctx context.Context) ([]core.ChainHead, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT e.org_id, e.seq, e.hash, e.created_at
		FROM audit_events e
		JOIN (SELECT org_id, max(seq) AS seq FROM audit_events GROUP BY org_id) t
		  ON t.org_id = e.org_id AND t.seq = e.seq
		ORDER BY e.org_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var heads []core.ChainHead
	for rows.Next() {
		var (
			h  core.ChainHead
			at int64
		)
		if err := rows.Scan(&h.TenantID, &h.Seq, &h.Hash, &at); err != nil {
			return nil, err
		}
		h.LastEventAt = fromMicros(at)
		heads = append(heads, h)
	}
	return heads, rows.Err()
}

func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT org_id FROM audit_events
		UNION SELECT org_id FROM evidence_packs ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]core.AuditEvent, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := []core.AuditEvent{}
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (core.AuditEvent, error) {
	var (
		e                 core.AuditEvent
		role, correlation sql.NullString
		before, after     sql.NullString
		at                int64
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.Seq, &e.ActorID, &role, &e.Action, &e.TargetType, &e.TargetID,
		&before, &after, &correlation, &e.Hash, &e.PreviousHash, &at)
	if err != nil {
		return core.AuditEvent{}, err
	}
	e.ActorRole = role.String
	e.CorrelationID = correlation.String
	if before.Valid {
		e.Before = json.RawMessage(before.String)
	}
	if after.Valid {
		e.After = json.RawMessage(after.String)
	}
	e.CreatedAt = fromMicros(at)
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]core.AuditEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE org_id = ? AND seq > ? ORDER BY seq LIMIT ?`, tenantID, afterSeq, limit)
}

func (s *Store) ListEventsByTarget(ctx context.Context, tenantID, targetID string, limit int) ([]core.AuditEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE org_id = ? AND target_id = ? ORDER BY seq LIMIT ?`, tenantID, targetID, limit)
}

func (s *Store) ListTerminalEvents(ctx context.Context, tenantID string, actions []string) ([]core.AuditEvent, error) {
	if len(actions) == 0 {
		return []core.AuditEvent{}, nil
	}
	args := append([]any{tenantID}, stringArgs(actions)...)
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE org_id = ? AND action IN (`+placeholders(len(actions))+`) ORDER BY seq`, args...)
}

func (s *Store) CountTerminalEvents(ctx context.Context, tenantID string, actions []string) (map[string]int64, *time.Time, error) {
	counts := make(map[string]int64)
	if len(actions) == 0 {
		return counts, nil, nil
	}
	args := append([]any{tenantID}, stringArgs(actions)...)
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT action, count(*), max(created_at) FROM audit_events
		WHERE org_id = ? AND action IN (`+placeholders(len(actions))+`) GROUP BY action`, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var last *time.Time
	for rows.Next() {
		var (
			action string
			n, at  int64
		)
		if err := rows.Scan(&action, &n, &at); err != nil {
			return nil, nil, err
		}
		counts[action] = n
		if t := fromMicros(at); last == nil || t.After(*last) {
			last = &t
		}
	}
	return counts, last, rows.Err()
}

func (s *Store) GetEvent(ctx context.Context, tenantID, eventID string) (core.AuditEvent, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_events
		WHERE org_id = ? AND event_id = ?`, tenantID, eventID)
	evt, err := scanEvent(row)
	return evt, mapError(err)
}

const packColumns = `pack_id, org_id, evidence_type, subject_id, trigger_event_id, event_type,
	merkle_root, pack_digest, seal_signature, seal_key_id, metadata, status, hash_chain_start,
	hash_chain_end, chain_integrity, idempotency_key, request_hash, created_at, verified_at`

func (s *Store) CreatePack(ctx context.Context, p core.EvidencePack) error {
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	var verifiedAt any
	if p.VerifiedAt != nil {
		verifiedAt = p.VerifiedAt.UTC().UnixMicro()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create pack: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `INSERT INTO evidence_packs (`+packColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, string(p.EvidenceType), p.SubjectID, nullString(p.TriggerEventID), nullString(p.EventType),
		p.MerkleRoot, p.PackDigest, p.Seal.Signature, p.Seal.KeyID, string(metaJSON), string(p.Status),
		nullString(p.HashChainStart), nullString(p.HashChainEnd), string(p.ChainIntegrity),
		nullString(p.IdempotencyKey), nullString(p.RequestHash), p.CreatedAt.UTC().UnixMicro(), verifiedAt,
	)
	if err != nil {
		return mapError(err)
	}
	for i, a := range p.Artifacts {
		_, err := tx.ExecContext(ctx, `INSERT INTO evidence_artifacts (pack_id, position, name, sha256, payload, content_path)
			VALUES (?, ?, ?, ?, ?, ?)`, p.ID, i, a.Name, a.SHA256, nullJSON(a.Payload), nullString(a.ContentPath))
		if err != nil {
			return mapError(err)
		}
	}
	return mapError(tx.Commit())
}

func scanPack(row scanner) (core.EvidencePack, error) {
	var (
		p                                        core.EvidencePack
		evType, status, integrity, metadata      string
		trigger, eventType, start, end, idem, rh sql.NullString
		createdAt                                int64
		verifiedAt                               sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.TenantID, &evType, &p.SubjectID, &trigger, &eventType,
		&p.MerkleRoot, &p.PackDigest, &p.Seal.Signature, &p.Seal.KeyID, &metadata, &status, &start,
		&end, &integrity, &idem, &rh, &createdAt, &verifiedAt)
	if err != nil {
		return core.EvidencePack{}, err
	}
	p.EvidenceType = core.EvidenceType(evType)
	p.Status = core.PackStatus(status)
	p.ChainIntegrity = core.ChainIntegrity(integrity)
	p.TriggerEventID, p.EventType = trigger.String, eventType.String
	p.HashChainStart, p.HashChainEnd = start.String, end.String
	p.IdempotencyKey, p.RequestHash = idem.String, rh.String
	if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
		return core.EvidencePack{}, fmt.Errorf("decode metadata: %w", err)
	}
	p.CreatedAt = fromMicros(createdAt)
	if verifiedAt.Valid {
		t := fromMicros(verifiedAt.Int64)
		p.VerifiedAt = &t
	}
	return p, nil
}

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
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT pack_id, name, sha256, payload, content_path
		FROM evidence_artifacts WHERE pack_id IN (`+placeholders(len(ids))+`) ORDER BY pack_id, position`,
		stringArgs(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			packID        string
			a             core.EvidenceArtifact
			payload, path sql.NullString
		)
		if err := rows.Scan(&packID, &a.Name, &a.SHA256, &payload, &path); err != nil {
			return err
		}
		if payload.Valid {
			a.Payload = json.RawMessage(payload.String)
		}
		a.ContentPath = path.String
		i := index[packID]
		packs[i].Artifacts = append(packs[i].Artifacts, a)
	}
	return rows.Err()
}

func (s *Store) onePack(ctx context.Context, query string, args ...any) (core.EvidencePack, error) {
	p, err := scanPack(s.sqlDB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return core.EvidencePack{}, mapError(err)
	}
	packs := []core.EvidencePack{p}
	if err := s.loadArtifacts(ctx, packs); err != nil {
		return core.EvidencePack{}, err
	}
	return packs[0], nil
}

func (s *Store) GetPack(ctx context.Context, tenantID, packID string) (core.EvidencePack, error) {
	return s.onePack(ctx, `SELECT `+packColumns+` FROM evidence_packs WHERE org_id = ? AND pack_id = ?`, tenantID, packID)
}

func (s *Store) FindPackByIdempotencyKey(ctx context.Context, tenantID, key string) (core.EvidencePack, error) {
	return s.onePack(ctx, `SELECT `+packColumns+` FROM evidence_packs WHERE org_id = ? AND idempotency_key = ?`, tenantID, key)
}

func (s *Store) ListPacks(ctx context.Context, f core.PackFilter) ([]core.EvidencePack, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "org_id = ?")
		args = append(args, f.TenantID)
	}
	if len(f.Status) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Status))+")")
		for _, st := range f.Status {
			args = append(args, string(st))
		}
	}
	if f.TriggerEventID != "" {
		where = append(where, "trigger_event_id = ?")
		args = append(args, f.TriggerEventID)
	}
	if f.VerifiedBefore != nil {
		where = append(where, "(verified_at IS NULL OR verified_at < ?)")
		args = append(args, f.VerifiedBefore.UTC().UnixMicro())
	}
	query := `SELECT ` + packColumns + ` FROM evidence_packs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, pack_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	packs := []core.EvidencePack{}
	for rows.Next() {
		p, err := scanPack(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		packs = append(packs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadArtifacts(ctx, packs); err != nil {
		return nil, err
	}
	return packs, nil
}

func (s *Store) UpdatePackStatus(ctx context.Context, tenantID, packID string, status core.PackStatus, integrity core.ChainIntegrity, verifiedAt time.Time) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE evidence_packs
		SET status = ?, chain_integrity = ?, verified_at = ?
		WHERE org_id = ? AND pack_id = ?`, string(status), string(integrity), verifiedAt.UTC().UnixMicro(), tenantID, packID)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func (s *Store) InsertProofPack(ctx context.Context, pp core.GovernanceProofPack) error {
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO governance_proof_packs (
			proof_pack_id, generated_at, contract_test_fingerprint, ci_status, migration_id,
			audit_chain_digest, scan_status, red_team_summary, signature_hash, key_id, immutable, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pp.ID, pp.GeneratedAt.UTC().UnixMicro(), pp.Signals.ContractTestFingerprint, pp.Signals.CIStatus, pp.Signals.MigrationID,
		pp.Signals.AuditChainDigest, pp.Signals.ScanStatus, pp.Signals.RedTeamSummary,
		pp.SignatureHash, pp.KeyID, pp.Immutable, pp.Payload,
	)
	return mapError(err)
}

func (s *Store) LatestProofPack(ctx context.Context) (core.GovernanceProofPack, error) {
	var (
		pp core.GovernanceProofPack
		at int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `SELECT proof_pack_id, generated_at, contract_test_fingerprint, ci_status,
			migration_id, audit_chain_digest, scan_status, red_team_summary, signature_hash, key_id, immutable, payload
		FROM governance_proof_packs ORDER BY generated_at DESC, rowid DESC LIMIT 1`).Scan(
		&pp.ID, &at, &pp.Signals.ContractTestFingerprint, &pp.Signals.CIStatus,
		&pp.Signals.MigrationID, &pp.Signals.AuditChainDigest, &pp.Signals.ScanStatus, &pp.Signals.RedTeamSummary,
		&pp.SignatureHash, &pp.KeyID, &pp.Immutable, &pp.Payload,
	)
	if err != nil {
		return core.GovernanceProofPack{}, mapError(err)
	}
	pp.GeneratedAt = fromMicros(at)
	return pp, nil
}

func (s *Store) LatestMigration(ctx context.Context) (string, error) {
	var name string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT name FROM schema_migrations ORDER BY name DESC LIMIT 1`).Scan(&name)
	return name, mapError(err)
}

func (s *Store) ReadRow(ctx context.Context, tenantID, table, id string) (json.RawMessage, error) {
	row, err := readRow(ctx, s.sqlDB, tenantID, table, id)
	return row, mapError(err)
}

func (s *Store) InsertRow(ctx context.Context, tenantID, table, id string, row json.RawMessage, build core.RowEventBuilder) (core.AuditEvent, error) {
	return s.writeRow(ctx, tenantID, build, func(tx *sql.Tx) (json.RawMessage, error) {
		_, err := tx.ExecContext(ctx, `INSERT INTO domain_rows (org_id, table_name, row_id, body, updated_at) VALUES (?, ?, ?, ?, ?)`,
			tenantID, table, id, string(row), time.Now().UTC().UnixMicro())
		return nil, err
	})
}

func (s *Store) UpdateRow(ctx context.Context, tenantID, table, id string, row json.RawMessage, build core.RowEventBuilder) (core.AuditEvent, error) {
	return s.writeRow(ctx, tenantID, build, func(tx *sql.Tx) (json.RawMessage, error) {
		before, err := readRow(ctx, tx, tenantID, table, id)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `UPDATE domain_rows SET body = ?, updated_at = ?
			WHERE org_id = ? AND table_name = ? AND row_id = ?`, string(row), time.Now().UTC().UnixMicro(), tenantID, table, id)
		if err != nil {
			return nil, err
		}
		return before, requireRow(res)
	})
}

func (s *Store) DeleteRow(ctx context.Context, tenantID, table, id string, build core.RowEventBuilder) (core.AuditEvent, error) {
	return s.writeRow(ctx, tenantID, build, func(tx *sql.Tx) (json.RawMessage, error) {
		before, err := readRow(ctx, tx, tenantID, table, id)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM domain_rows WHERE org_id = ? AND table_name = ? AND row_id = ?`,
			tenantID, table, id)
		if err != nil {
			return nil, err
		}
		return before, requireRow(res)
	})
}

// writeRow applies write and appends the event built from the prior snapshot
// write returns, in one transaction.
func (s *Store) writeRow(ctx context.Context, tenantID string, build core.RowEventBuilder, write func(*sql.Tx) (json.RawMessage, error)) (core.AuditEvent, error) {
	var evt core.AuditEvent
	err := s.inTx(ctx, func(tx *sql.Tx) error {
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
		return core.AuditEvent{}, err
	}
	return evt, nil
}

func readRow(ctx context.Context, q queryRower, tenantID, table, id string) (json.RawMessage, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM domain_rows WHERE org_id = ? AND table_name = ? AND row_id = ?`,
		tenantID, table, id).Scan(&body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrRecordNotFound
	}
	return nil
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lzjever/ledgerseal/internal/core"
)

// appendOnlyCode is the SQLSTATE raised by the immutability triggers.
const appendOnlyCode = "LS001"

const uniqueViolation = "23505"

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrRecordNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == appendOnlyCode:
			return fmt.Errorf("%w: %s", core.ErrAppendOnly, pgErr.Message)
		case pgErr.Code == uniqueViolation && (pgErr.ConstraintName == "audit_events_org_seq_key" || pgErr.ConstraintName == "audit_events_org_prev_key"):
			return fmt.Errorf("%w: %s", core.ErrChainConflict, pgErr.ConstraintName)
		case pgErr.Code == uniqueViolation && pgErr.ConstraintName == "evidence_packs_idempotency_key":
			return core.ErrIdempotencyConflict
		}
	}
	return err
}

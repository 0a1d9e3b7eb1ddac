package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/lzjever/ledgerseal/internal/core"
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrRecordNotFound
	}
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	msg := sqliteErr.Error()
	switch code := sqliteErr.Code(); {
	case code == sqlite3lib.SQLITE_CONSTRAINT_TRIGGER || strings.Contains(msg, "append-only table"):
		return fmt.Errorf("%w: %s", core.ErrAppendOnly, msg)
	case code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		switch {
		case strings.Contains(msg, "audit_events.seq") || strings.Contains(msg, "audit_events.previous_hash"):
			return fmt.Errorf("%w: %s", core.ErrChainConflict, msg)
		case strings.Contains(msg, "evidence_packs.idempotency_key"):
			return core.ErrIdempotencyConflict
		}
	}
	return err
}

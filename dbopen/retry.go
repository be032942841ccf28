package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const maxRetries = 3

// IsBusy reports whether err is an SQLite BUSY / locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Exec runs a statement, retrying up to three times on BUSY with a
// 100/200/300 ms backoff. The scan task and the command loop share one
// database file, so short lock contention is expected.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for i := range maxRetries {
		res, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsBusy(err) {
			return nil, err
		}
		if i == maxRetries-1 {
			break
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("dbopen: retry cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil, lastErr
}

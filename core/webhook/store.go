package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// MarkProcessed records a gateway event id and reports whether this is
// the first time it was seen. It runs inside the fulfillment
// transaction, so a failed run leaves no marker and the gateway's retry
// gets a clean slate.
func MarkProcessed(ctx context.Context, db sqlx.ExtContext, eventID string, now time.Time) (bool, error) {
	const q = `
	INSERT INTO processed_event (event_id, created_at)
	VALUES ($1, $2)
	ON CONFLICT (event_id) DO NOTHING`

	res, err := db.ExecContext(ctx, q, eventID, now)
	if err != nil {
		return false, fmt.Errorf("inserting processed event[%s]: %w", eventID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

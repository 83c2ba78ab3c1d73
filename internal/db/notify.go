package db

import (
	"context"
	"database/sql"
)

// Notifier announces completed encounters on a Postgres NOTIFY channel so a
// reviewer dashboard can refresh without polling.
type Notifier struct {
	DB      *sql.DB
	Channel string
}

// NewNotifier constructs a Notifier. The channel should match the
// PG_NOTIFY_CHANNEL configuration.
func NewNotifier(db *sql.DB, channel string) *Notifier {
	return &Notifier{DB: db, Channel: channel}
}

// Notify publishes the encounter ID on the channel.
func (n *Notifier) Notify(ctx context.Context, encounterID string) error {
	_, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, encounterID)
	return err
}

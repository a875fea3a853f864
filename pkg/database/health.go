package database

import (
	"context"
	stdsql "database/sql"
)

// Health reports database connectivity as "connected" or "disconnected".
func Health(ctx context.Context, db *stdsql.DB) (string, error) {
	if err := db.PingContext(ctx); err != nil {
		return "disconnected", err
	}
	return "connected", nil
}

// Health reports the client's connectivity status.
func (c *Client) Health(ctx context.Context) (string, error) {
	return Health(ctx, c.db)
}

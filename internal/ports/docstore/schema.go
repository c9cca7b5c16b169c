package docstore

import (
	"context"
	"database/sql"
)

const recordsSchema = `
CREATE TABLE IF NOT EXISTS attendance_records (
    id       UUID PRIMARY KEY,
    owner_id TEXT NOT NULL,
    date     DATE NOT NULL,
    doc      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attendance_records_owner ON attendance_records (owner_id);
CREATE INDEX IF NOT EXISTS idx_attendance_records_date  ON attendance_records (date);
CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_records_owner_open
    ON attendance_records (owner_id)
    WHERE (doc ? 'checkIn') AND NOT (doc ? 'checkOut');
`

// EnsureSchema creates the records table and indexes if missing. The
// partial unique index is what makes "at most one open record per owner"
// hold under concurrent writers; the service-layer check is only a
// fast path.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, recordsSchema)
	return err
}

package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"attendance.service/internal/core/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// notifyChannel is the Postgres channel carrying record change events.
const notifyChannel = "attendance_changes"

// PostgresStore persists records as JSONB documents with extracted columns
// for server-side filtering. Every mutation emits a pg_notify in the same
// transaction, which Subscribe turns into a change stream.
type PostgresStore struct {
	DB  *sql.DB
	DSN string // separate pgx connection per subscription for LISTEN
}

// NewPostgresStore creates a store over an instrumented connection pool.
func NewPostgresStore(db *sql.DB, dsn string) *PostgresStore {
	return &PostgresStore{DB: db, DSN: dsn}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	var doc []byte
	err := s.DB.QueryRowContext(ctx, `SELECT doc FROM attendance_records WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, model.NewError(model.CodeNotFound, "record %s not found", id)
	}
	if err != nil {
		return nil, model.WrapError(model.CodeStoreUnavailable, err, "get record %s", id)
	}

	var rec model.AttendanceRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, model.WrapError(model.CodeStoreUnavailable, err, "decode record %s", id)
	}
	rec.ID = id
	return &rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *model.AttendanceRecord) (string, error) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.ownerId", rec.OwnerID))

	stored := rec.Clone()
	stored.ID = uuid.NewString()

	err := s.writeAndNotify(ctx, EventAdded, &stored, func(tx *sql.Tx, doc []byte) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attendance_records (id, owner_id, date, doc) VALUES ($1, $2, $3, $4)`,
			stored.ID, stored.OwnerID, stored.Date, doc)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return "", model.NewError(model.CodeConflict, "owner %s already has an open record", rec.OwnerID)
		}
		return "", model.WrapError(model.CodeStoreUnavailable, err, "create record for %s", rec.OwnerID)
	}
	return stored.ID, nil
}

func (s *PostgresStore) Update(ctx context.Context, rec *model.AttendanceRecord) error {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.ownerId", rec.OwnerID))

	stored := rec.Clone()
	var updated int64
	err := s.writeAndNotify(ctx, EventModified, &stored, func(tx *sql.Tx, doc []byte) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE attendance_records SET owner_id = $2, date = $3, doc = $4 WHERE id = $1`,
			stored.ID, stored.OwnerID, stored.Date, doc)
		if err != nil {
			return err
		}
		updated, err = res.RowsAffected()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewError(model.CodeConflict, "owner %s already has an open record", rec.OwnerID)
		}
		return model.WrapError(model.CodeStoreUnavailable, err, "update record %s", rec.ID)
	}
	if updated == 0 {
		return model.NewError(model.CodeNotFound, "record %s not found", rec.ID)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.writeAndNotify(ctx, EventRemoved, rec, func(tx *sql.Tx, _ []byte) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return model.WrapError(model.CodeStoreUnavailable, err, "delete record %s", id)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, q Query) ([]model.AttendanceRecord, error) {
	query := `SELECT id, doc FROM attendance_records WHERE 1=1`
	var args []any
	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		query += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if q.Date != "" {
		args = append(args, q.Date)
		query += fmt.Sprintf(" AND date = $%d", len(args))
	}
	if q.DateFrom != "" {
		args = append(args, q.DateFrom)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if q.DateTo != "" {
		args = append(args, q.DateTo)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if q.OpenOnly {
		query += ` AND (doc ? 'checkIn') AND NOT (doc ? 'checkOut')`
	}
	query += ` ORDER BY date, id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.WrapError(model.CodeStoreUnavailable, err, "list records")
	}
	defer rows.Close()

	var out []model.AttendanceRecord
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, model.WrapError(model.CodeStoreUnavailable, err, "scan record")
		}
		var rec model.AttendanceRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, model.WrapError(model.CodeStoreUnavailable, err, "decode record %s", id)
		}
		rec.ID = id
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.CodeStoreUnavailable, err, "list records")
	}
	return out, nil
}

// Subscribe opens a dedicated pgx connection and LISTENs on the change
// channel. Filtering happens client-side: pg_notify fans out to every
// listener, so the predicate is applied per event before delivery.
func (s *PostgresStore) Subscribe(ctx context.Context, q Query) (<-chan Event, error) {
	conn, err := pgx.Connect(ctx, s.DSN)
	if err != nil {
		return nil, model.WrapError(model.CodeStoreUnavailable, err, "open change-stream connection")
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Close(ctx)
		return nil, model.WrapError(model.CodeStoreUnavailable, err, "listen on %s", notifyChannel)
	}

	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		defer conn.Close(context.Background())

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("Change-stream connection lost")
				}
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				log.Error().Err(err).Msg("Malformed change notification payload")
				continue
			}
			if !q.Matches(&ev.Record) {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// isUniqueViolation reports whether err is the open-record unique index
// rejecting a write that would leave an owner with two open records.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// writeAndNotify runs the mutation and the pg_notify in one transaction so
// subscribers never observe a change the store did not commit.
func (s *PostgresStore) writeAndNotify(ctx context.Context, typ EventType, rec *model.AttendanceRecord, write func(tx *sql.Tx, doc []byte) error) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	payload, err := json.Marshal(Event{Type: typ, Record: *rec})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := write(tx, doc); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		return err
	}
	return tx.Commit()
}

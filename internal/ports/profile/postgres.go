package profile

import (
	"context"
	"database/sql"
	"encoding/json"

	"attendance.service/internal/core/model"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

const profileChannel = "profile_changes"

const profilesSchema = `
CREATE TABLE IF NOT EXISTS employee_profiles (
    uid          TEXT PRIMARY KEY,
    role         TEXT NOT NULL,
    service_area TEXT NOT NULL DEFAULT '',
    email        TEXT NOT NULL DEFAULT ''
);
`

// PostgresStore reads employee profiles and streams role changes over
// LISTEN/NOTIFY, mirroring the record store's change-feed shape.
type PostgresStore struct {
	DB  *sql.DB
	DSN string
}

func NewPostgresStore(db *sql.DB, dsn string) *PostgresStore {
	return &PostgresStore{DB: db, DSN: dsn}
}

// EnsureSchema creates the profiles table if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, profilesSchema)
	return err
}

func (s *PostgresStore) GetProfile(ctx context.Context, uid string) (*model.Profile, error) {
	p := &model.Profile{UID: uid}
	err := s.DB.QueryRowContext(ctx,
		`SELECT role, service_area, email FROM employee_profiles WHERE uid = $1`, uid).
		Scan(&p.Role, &p.ServiceArea, &p.Email)
	if err == sql.ErrNoRows {
		return nil, model.NewError(model.CodeNotFound, "profile %s not found", uid)
	}
	if err != nil {
		return nil, model.WrapError(model.CodeStoreUnavailable, err, "get profile %s", uid)
	}
	return p, nil
}

// UpsertProfile writes a profile and notifies listeners in one transaction.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p model.Profile) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.WrapError(model.CodeStoreUnavailable, err, "upsert profile %s", p.UID)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO employee_profiles (uid, role, service_area, email) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (uid) DO UPDATE SET role = $2, service_area = $3, email = $4`,
		p.UID, p.Role, p.ServiceArea, p.Email)
	if err != nil {
		return model.WrapError(model.CodeStoreUnavailable, err, "upsert profile %s", p.UID)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, profileChannel, string(payload)); err != nil {
		return model.WrapError(model.CodeStoreUnavailable, err, "notify profile change %s", p.UID)
	}
	if err := tx.Commit(); err != nil {
		return model.WrapError(model.CodeStoreUnavailable, err, "upsert profile %s", p.UID)
	}
	return nil
}

func (s *PostgresStore) Changes(ctx context.Context) (<-chan model.Profile, error) {
	conn, err := pgx.Connect(ctx, s.DSN)
	if err != nil {
		return nil, model.WrapError(model.CodeStoreUnavailable, err, "open profile-change connection")
	}
	if _, err := conn.Exec(ctx, "LISTEN "+profileChannel); err != nil {
		conn.Close(ctx)
		return nil, model.WrapError(model.CodeStoreUnavailable, err, "listen on %s", profileChannel)
	}

	ch := make(chan model.Profile, 16)
	go func() {
		defer close(ch)
		defer conn.Close(context.Background())

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("Profile-change connection lost")
				}
				return
			}
			var p model.Profile
			if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
				log.Error().Err(err).Msg("Malformed profile notification payload")
				continue
			}
			select {
			case ch <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore mirrors run records to Postgres for durable, queryable
// history across hosts.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(conn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS deploy_runs (
    id TEXT PRIMARY KEY,
    instance_name TEXT NOT NULL,
    image_ref TEXT NOT NULL,
    artifact_version TEXT,
    host_port INTEGER NOT NULL,
    container_port INTEGER NOT NULL,
    state TEXT NOT NULL,
    warnings JSONB NOT NULL DEFAULT '[]',
    error TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS deploy_run_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES deploy_runs(id) ON DELETE CASCADE,
    state TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS deploy_run_logs (
    id BIGSERIAL PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES deploy_runs(id) ON DELETE CASCADE,
    line TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) Create(rec Record) error {
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return err
	}
	query := `INSERT INTO deploy_runs (id, instance_name, image_ref, artifact_version, host_port, container_port, state, warnings, error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
    instance_name = EXCLUDED.instance_name,
    image_ref = EXCLUDED.image_ref,
    artifact_version = EXCLUDED.artifact_version,
    host_port = EXCLUDED.host_port,
    container_port = EXCLUDED.container_port,
    state = EXCLUDED.state,
    updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query,
		rec.ID,
		rec.InstanceName,
		rec.ImageRef,
		rec.ArtifactVersion,
		rec.HostPort,
		rec.ContainerPort,
		rec.State,
		warnings,
		rec.Error,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) SetState(id string, state State, errMsg string) error {
	var finishedAt *time.Time
	if state.Terminal() {
		now := time.Now().UTC()
		finishedAt = &now
	}
	query := `UPDATE deploy_runs SET state=$1, updated_at=$2, finished_at=$3, error=$4 WHERE id=$5`
	res, err := s.db.Exec(query, state, time.Now().UTC(), finishedAt, errMsg, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) SetArtifactVersion(id, version string) error {
	res, err := s.db.Exec(`UPDATE deploy_runs SET artifact_version=$1, updated_at=$2 WHERE id=$3`,
		version, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) AddWarning(id string, w Warning) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE deploy_runs SET warnings = warnings || $1::jsonb, updated_at=$2 WHERE id=$3`,
		payload, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) AppendEvent(id string, state State, message string) error {
	_, err := s.db.Exec(`INSERT INTO deploy_run_events (id, run_id, state, message, created_at) VALUES ($1,$2,$3,$4,$5)`,
		uuid.NewString(), id, state, message, time.Now().UTC())
	return err
}

func (s *PostgresStore) AppendLog(id, line string) error {
	_, err := s.db.Exec(`INSERT INTO deploy_run_logs (run_id, line) VALUES ($1,$2)`, id, line)
	return err
}

const runColumns = `id, instance_name, image_ref, artifact_version, host_port, container_port, state, warnings, error, created_at, updated_at, finished_at`

func (s *PostgresStore) Get(id string) (Record, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM deploy_runs WHERE id=$1`, id)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM deploy_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Events(id string) ([]Event, error) {
	rows, err := s.db.Query(`SELECT id, run_id, state, message, created_at FROM deploy_run_events WHERE run_id=$1 ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.State, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) Logs(id string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`SELECT line FROM deploy_run_logs WHERE run_id=$1 ORDER BY id ASC LIMIT $2`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Record, error) {
	var rec Record
	var artifactVersion, errMsg sql.NullString
	var finishedAt sql.NullTime
	var warnings []byte
	err := row.Scan(&rec.ID, &rec.InstanceName, &rec.ImageRef, &artifactVersion,
		&rec.HostPort, &rec.ContainerPort, &rec.State, &warnings, &errMsg,
		&rec.CreatedAt, &rec.UpdatedAt, &finishedAt)
	if err != nil {
		return Record{}, err
	}
	if artifactVersion.Valid {
		rec.ArtifactVersion = artifactVersion.String
	}
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if finishedAt.Valid {
		rec.FinishedAt = finishedAt.Time
	}
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &rec.Warnings); err != nil {
			return Record{}, fmt.Errorf("parse warnings: %w", err)
		}
	}
	return rec, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

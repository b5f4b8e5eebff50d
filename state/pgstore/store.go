// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pgstore implements state.Store against a remote PostgreSQL
// database, for distributed deployments that need more than one node
// sharing state.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/ado-project/adocore/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	repository_key TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	metadata JSONB
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	client_id TEXT UNIQUE,
	session_id TEXT REFERENCES sessions(id),
	definition JSONB NOT NULL,
	status TEXT NOT NULL,
	provider_id TEXT,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	error TEXT,
	result TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_session_id ON tasks(session_id);

CREATE TABLE IF NOT EXISTS usage_records (
	provider_id TEXT NOT NULL,
	access_mode TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	request_count INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_usage_provider_time ON usage_records(provider_id, timestamp);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	state BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_task_id ON checkpoints(task_id);
`

// Store is a state.Store backed by PostgreSQL via database/sql + lib/pq.
type Store struct {
	db *sql.DB
}

// Open connects using dsn (a postgres:// connection string) and applies
// the schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenDB wraps an already-configured *sql.DB (e.g. from a connection pool
// manager) without running migrations, for callers that manage schema
// separately or are injecting a sqlmock DB in tests.
func OpenDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateSession(ctx context.Context, sess state.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("pgstore: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, repository_key, provider_id, created_at, updated_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.ProjectID, sess.RepositoryKey, sess.ProviderID, sess.CreatedAt, sess.UpdatedAt, meta,
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (state.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, repository_key, provider_id, created_at, updated_at, metadata
		 FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) UpdateSession(ctx context.Context, sess state.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("pgstore: marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET project_id=$1, repository_key=$2, provider_id=$3, updated_at=$4, metadata=$5 WHERE id=$6`,
		sess.ProjectID, sess.RepositoryKey, sess.ProviderID, sess.UpdatedAt, meta, sess.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (s *Store) CreateTask(ctx context.Context, t state.Task) error {
	def, err := json.Marshal(t.Definition)
	if err != nil {
		return fmt.Errorf("pgstore: marshal definition: %w", err)
	}
	var clientID any
	if t.Definition.ClientID != "" {
		clientID = t.Definition.ClientID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, client_id, session_id, definition, status, provider_id, started_at, completed_at, error, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, clientID, nullableString(t.SessionID), def, string(t.Status), nullableString(t.ProviderID),
		t.StartedAt, t.CompletedAt, t.Error, t.Result,
	)
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (state.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, definition, status, provider_id, started_at, completed_at, error, result
		 FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

func (s *Store) GetTaskByClientID(ctx context.Context, clientID string) (state.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, definition, status, provider_id, started_at, completed_at, error, result
		 FROM tasks WHERE client_id = $1`, clientID)
	return scanTask(row)
}

func (s *Store) UpdateTask(ctx context.Context, t state.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET session_id=$1, status=$2, provider_id=$3, started_at=$4, completed_at=$5, error=$6, result=$7 WHERE id=$8`,
		nullableString(t.SessionID), string(t.Status), nullableString(t.ProviderID),
		t.StartedAt, t.CompletedAt, t.Error, t.Result, t.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *Store) AppendUsage(ctx context.Context, u state.UsageRecord) error {
	var cost any
	if u.CostUSD != nil {
		cost = *u.CostUSD
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (provider_id, access_mode, timestamp, request_count, input_tokens, output_tokens, cost_usd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ProviderID, string(u.AccessMode), u.Timestamp, u.RequestCount, u.InputTokens, u.OutputTokens, cost,
	)
	return err
}

func (s *Store) QueryUsage(ctx context.Context, q state.UsageQuery) ([]state.UsageRecord, error) {
	query := `SELECT provider_id, access_mode, timestamp, request_count, input_tokens, output_tokens, cost_usd
	          FROM usage_records WHERE timestamp >= $1`
	args := []any{q.Since}
	if q.ProviderID != "" {
		query += ` AND provider_id = $2`
		args = append(args, q.ProviderID)
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []state.UsageRecord
	for rows.Next() {
		var u state.UsageRecord
		var mode string
		var cost sql.NullFloat64
		if err := rows.Scan(&u.ProviderID, &mode, &u.Timestamp, &u.RequestCount, &u.InputTokens, &u.OutputTokens, &cost); err != nil {
			return nil, err
		}
		u.AccessMode = state.AccessMode(mode)
		if cost.Valid {
			v := cost.Float64
			u.CostUSD = &v
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) InsertCheckpoint(ctx context.Context, c state.Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, task_id, session_id, created_at, state) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.TaskID, c.SessionID, c.CreatedAt, c.State,
	)
	return err
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (state.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, session_id, created_at, state FROM checkpoints WHERE id = $1`, id)
	return scanCheckpoint(row)
}

func (s *Store) LatestCheckpointForTask(ctx context.Context, taskID string) (state.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, session_id, created_at, state FROM checkpoints
		 WHERE task_id = $1 ORDER BY created_at DESC LIMIT 1`, taskID)
	return scanCheckpoint(row)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return state.ErrNotFound
	}
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

type scannableRow interface {
	Scan(dest ...any) error
}

func scanSession(row scannableRow) (state.Session, error) {
	var sess state.Session
	var meta []byte
	if err := row.Scan(&sess.ID, &sess.ProjectID, &sess.RepositoryKey, &sess.ProviderID, &sess.CreatedAt, &sess.UpdatedAt, &meta); err != nil {
		if err == sql.ErrNoRows {
			return state.Session{}, state.ErrNotFound
		}
		return state.Session{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sess.Metadata); err != nil {
			return state.Session{}, err
		}
	}
	return sess, nil
}

func scanTask(row scannableRow) (state.Task, error) {
	var t state.Task
	var sessionID, providerID sql.NullString
	var startedAt, completedAt sql.NullTime
	var def []byte
	var status string
	if err := row.Scan(&t.ID, &sessionID, &def, &status, &providerID, &startedAt, &completedAt, &t.Error, &t.Result); err != nil {
		if err == sql.ErrNoRows {
			return state.Task{}, state.ErrNotFound
		}
		return state.Task{}, err
	}
	t.SessionID = sessionID.String
	t.ProviderID = providerID.String
	t.Status = state.TaskStatus(status)
	if err := json.Unmarshal(def, &t.Definition); err != nil {
		return state.Task{}, err
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return t, nil
}

func scanCheckpoint(row scannableRow) (state.Checkpoint, error) {
	var c state.Checkpoint
	if err := row.Scan(&c.ID, &c.TaskID, &c.SessionID, &c.CreatedAt, &c.State); err != nil {
		if err == sql.ErrNoRows {
			return state.Checkpoint{}, state.ErrNotFound
		}
		return state.Checkpoint{}, err
	}
	return c, nil
}

var _ state.Store = (*Store)(nil)

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

// Package sqlitestore implements state.Store on a single embedded SQLite
// file, for single-node deployments. It uses modernc.org/sqlite, a
// pure-Go driver, so the binary stays cgo-free.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ado-project/adocore/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	repository_key TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	client_id TEXT,
	session_id TEXT,
	definition TEXT NOT NULL,
	status TEXT NOT NULL,
	provider_id TEXT,
	started_at TEXT,
	completed_at TEXT,
	error TEXT,
	result TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_session_id ON tasks(session_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_client_id ON tasks(client_id) WHERE client_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS usage_records (
	provider_id TEXT NOT NULL,
	access_mode TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	request_count INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL
);
CREATE INDEX IF NOT EXISTS idx_usage_provider_time ON usage_records(provider_id, timestamp);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	state BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_task_id ON checkpoints(task_id);
`

// Store is a state.Store backed by a single SQLite file opened in WAL mode.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the file at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateSession(ctx context.Context, sess state.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, repository_key, provider_id, created_at, updated_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.RepositoryKey, sess.ProviderID,
		sess.CreatedAt.UTC().Format(time.RFC3339Nano), sess.UpdatedAt.UTC().Format(time.RFC3339Nano), meta,
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (state.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, repository_key, provider_id, created_at, updated_at, metadata
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) UpdateSession(ctx context.Context, sess state.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET project_id=?, repository_key=?, provider_id=?, updated_at=?, metadata=? WHERE id=?`,
		sess.ProjectID, sess.RepositoryKey, sess.ProviderID, sess.UpdatedAt.UTC().Format(time.RFC3339Nano), meta, sess.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *Store) CreateTask(ctx context.Context, t state.Task) error {
	def, err := json.Marshal(t.Definition)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal definition: %w", err)
	}
	var clientID any
	if t.Definition.ClientID != "" {
		clientID = t.Definition.ClientID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, client_id, session_id, definition, status, provider_id, started_at, completed_at, error, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, clientID, nullableString(t.SessionID), def, string(t.Status), nullableString(t.ProviderID),
		formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt), t.Error, t.Result,
	)
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (state.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, definition, status, provider_id, started_at, completed_at, error, result
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *Store) GetTaskByClientID(ctx context.Context, clientID string) (state.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, definition, status, provider_id, started_at, completed_at, error, result
		 FROM tasks WHERE client_id = ?`, clientID)
	return scanTask(row)
}

func (s *Store) UpdateTask(ctx context.Context, t state.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET session_id=?, status=?, provider_id=?, started_at=?, completed_at=?, error=?, result=? WHERE id=?`,
		nullableString(t.SessionID), string(t.Status), nullableString(t.ProviderID),
		formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt), t.Error, t.Result, t.ID,
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
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ProviderID, string(u.AccessMode), u.Timestamp.UTC().Format(time.RFC3339Nano), u.RequestCount, u.InputTokens, u.OutputTokens, cost,
	)
	return err
}

func (s *Store) QueryUsage(ctx context.Context, q state.UsageQuery) ([]state.UsageRecord, error) {
	query := `SELECT provider_id, access_mode, timestamp, request_count, input_tokens, output_tokens, cost_usd
	          FROM usage_records WHERE timestamp >= ?`
	args := []any{q.Since.UTC().Format(time.RFC3339Nano)}
	if q.ProviderID != "" {
		query += ` AND provider_id = ?`
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
		var ts string
		var mode string
		var cost sql.NullFloat64
		if err := rows.Scan(&u.ProviderID, &mode, &ts, &u.RequestCount, &u.InputTokens, &u.OutputTokens, &cost); err != nil {
			return nil, err
		}
		u.AccessMode = state.AccessMode(mode)
		u.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
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
		`INSERT INTO checkpoints (id, task_id, session_id, created_at, state) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.SessionID, c.CreatedAt.UTC().Format(time.RFC3339Nano), c.State,
	)
	return err
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (state.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, session_id, created_at, state FROM checkpoints WHERE id = ?`, id)
	return scanCheckpoint(row)
}

func (s *Store) LatestCheckpointForTask(ctx context.Context, taskID string) (state.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, session_id, created_at, state FROM checkpoints
		 WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`, taskID)
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

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type scannableRow interface {
	Scan(dest ...any) error
}

func scanSession(row scannableRow) (state.Session, error) {
	var sess state.Session
	var createdAt, updatedAt string
	var meta []byte
	if err := row.Scan(&sess.ID, &sess.ProjectID, &sess.RepositoryKey, &sess.ProviderID, &createdAt, &updatedAt, &meta); err != nil {
		if err == sql.ErrNoRows {
			return state.Session{}, state.ErrNotFound
		}
		return state.Session{}, err
	}
	var err error
	if sess.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return state.Session{}, err
	}
	if sess.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
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
	var startedAt, completedAt sql.NullString
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
	var err error
	if t.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return state.Task{}, err
	}
	if t.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return state.Task{}, err
	}
	return t, nil
}

func scanCheckpoint(row scannableRow) (state.Checkpoint, error) {
	var c state.Checkpoint
	var createdAt string
	if err := row.Scan(&c.ID, &c.TaskID, &c.SessionID, &createdAt, &c.State); err != nil {
		if err == sql.ErrNoRows {
			return state.Checkpoint{}, state.ErrNotFound
		}
		return state.Checkpoint{}, err
	}
	var err error
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return state.Checkpoint{}, err
	}
	return c, nil
}

var _ state.Store = (*Store)(nil)

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

// Package mysqlstore implements state.Store against a remote MySQL
// database — a second relational backend option alongside pgstore for
// deployments already standardized on MySQL.
package mysqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/ado-project/adocore/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id VARCHAR(64) PRIMARY KEY,
	project_id VARCHAR(255) NOT NULL,
	repository_key VARCHAR(255) NOT NULL,
	provider_id VARCHAR(128) NOT NULL,
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	metadata JSON
);

CREATE TABLE IF NOT EXISTS tasks (
	id VARCHAR(64) PRIMARY KEY,
	client_id VARCHAR(255) UNIQUE,
	session_id VARCHAR(64),
	definition JSON NOT NULL,
	status VARCHAR(32) NOT NULL,
	provider_id VARCHAR(128),
	started_at DATETIME(6) NULL,
	completed_at DATETIME(6) NULL,
	error TEXT,
	result LONGTEXT,
	INDEX idx_tasks_status (status),
	INDEX idx_tasks_session_id (session_id)
);

CREATE TABLE IF NOT EXISTS usage_records (
	provider_id VARCHAR(128) NOT NULL,
	access_mode VARCHAR(32) NOT NULL,
	timestamp DATETIME(6) NOT NULL,
	request_count INT NOT NULL,
	input_tokens INT NOT NULL,
	output_tokens INT NOT NULL,
	cost_usd DOUBLE NULL,
	INDEX idx_usage_provider_time (provider_id, timestamp)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id VARCHAR(64) PRIMARY KEY,
	task_id VARCHAR(64) NOT NULL,
	session_id VARCHAR(64) NOT NULL,
	created_at DATETIME(6) NOT NULL,
	state LONGBLOB NOT NULL,
	INDEX idx_checkpoints_task_id (task_id)
);
`

// Store is a state.Store backed by MySQL via database/sql + go-sql-driver.
type Store struct {
	db *sql.DB
}

// Open connects using dsn (a go-sql-driver DSN, e.g. "user:pass@tcp(host)/db?parseTime=true")
// and applies the schema. parseTime=true is required for time.Time scanning.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysqlstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysqlstore: ping: %w", err)
	}
	for _, stmt := range splitStatements(schema) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("mysqlstore: migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// OpenDB wraps an already-configured *sql.DB without running migrations.
func OpenDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateSession(ctx context.Context, sess state.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("mysqlstore: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, repository_key, provider_id, created_at, updated_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.RepositoryKey, sess.ProviderID, sess.CreatedAt, sess.UpdatedAt, meta,
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
		return fmt.Errorf("mysqlstore: marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET project_id=?, repository_key=?, provider_id=?, updated_at=?, metadata=? WHERE id=?`,
		sess.ProjectID, sess.RepositoryKey, sess.ProviderID, sess.UpdatedAt, meta, sess.ID,
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
		return fmt.Errorf("mysqlstore: marshal definition: %w", err)
	}
	var clientID any
	if t.Definition.ClientID != "" {
		clientID = t.Definition.ClientID
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, client_id, session_id, definition, status, provider_id, started_at, completed_at, error, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, clientID, nullableString(t.SessionID), def, string(t.Status), nullableString(t.ProviderID),
		t.StartedAt, t.CompletedAt, t.Error, t.Result,
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
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ProviderID, string(u.AccessMode), u.Timestamp, u.RequestCount, u.InputTokens, u.OutputTokens, cost,
	)
	return err
}

func (s *Store) QueryUsage(ctx context.Context, q state.UsageQuery) ([]state.UsageRecord, error) {
	query := `SELECT provider_id, access_mode, timestamp, request_count, input_tokens, output_tokens, cost_usd
	          FROM usage_records WHERE timestamp >= ?`
	args := []any{q.Since}
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
		`INSERT INTO checkpoints (id, task_id, session_id, created_at, state) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.SessionID, c.CreatedAt, c.State,
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

// splitStatements exists because database/sql's mysql driver does not
// support multi-statement Exec by default; the schema is applied one
// CREATE TABLE at a time.
func splitStatements(sqlText string) []string {
	var stmts []string
	var cur string
	for _, line := range splitLines(sqlText) {
		cur += line + "\n"
		if hasSuffixSemicolon(line) {
			stmts = append(stmts, cur)
			cur = ""
		}
	}
	return stmts
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func hasSuffixSemicolon(line string) bool {
	trimmed := line
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == ' ' || trimmed[len(trimmed)-1] == '\t' || trimmed[len(trimmed)-1] == '\r') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return len(trimmed) > 0 && trimmed[len(trimmed)-1] == ';'
}

var _ state.Store = (*Store)(nil)

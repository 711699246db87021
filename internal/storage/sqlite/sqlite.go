package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/skatterlabs/skatter/internal/storage"

	// sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

const (
	querySaveExecution = `INSERT INTO executions(query_id, table_name, created_at, data)
							VALUES(?, ?, ?, ?)`
	initDatabaseQueries = `CREATE TABLE IF NOT EXISTS executions (
		"id" integer NOT NULL PRIMARY KEY AUTOINCREMENT,
		"query_id" TEXT UNIQUE,
		"table_name" TEXT,
		"created_at" INTEGER,
		"data" BLOB
	  )`
	queryGetExecution = `SELECT data
		FROM executions
		WHERE query_id = ?`
	queryGetExecutions = `SELECT data
		FROM executions
		WHERE table_name = ?
		ORDER BY id DESC limit ?`
)

var (
	ErrEmptyResult = errors.New("empty result")
)

type sqlite struct {
	db     *sql.DB
	config Config
}

type Config struct {
	FileName       string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

func New(cfg Config) (storage.Storage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	db, err := sql.Open("sqlite3", cfg.FileName)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)

	err = createTables(ctx, db)
	if err != nil {
		return nil, err
	}

	return &sqlite{
		db:     db,
		config: cfg,
	}, nil
}

func (s *sqlite) SaveExecution(ctx context.Context, exec storage.Execution) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	data, err := json.Marshal(exec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, querySaveExecution, exec.ID, exec.Table, exec.CreatedAt, data)

	return err
}

func (s *sqlite) GetExecution(ctx context.Context, queryID string) (storage.Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	var exec storage.Execution
	data := make([]byte, 0)
	row := s.db.QueryRowContext(ctx, queryGetExecution, queryID)

	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return exec, ErrEmptyResult
	}
	if err != nil {
		return exec, err
	}
	err = json.Unmarshal(data, &exec)

	return exec, err
}

func (s *sqlite) GetExecutions(ctx context.Context, table string, limit int) ([]storage.Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	resp := make([]storage.Execution, 0)
	rows, err := s.db.QueryContext(ctx, queryGetExecutions, table, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	data := make([]byte, 0)
	for rows.Next() {
		err = rows.Scan(&data)
		if err != nil {
			return nil, err
		}

		var exec storage.Execution
		err = json.Unmarshal(data, &exec)
		if err != nil {
			return nil, err
		}

		resp = append(resp, exec)
	}

	return resp, rows.Err()
}

func (s *sqlite) Close() error {
	return s.db.Close()
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, initDatabaseQueries)

	return err
}

package logstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// postgresStore keeps one logical segment as rows in an append-only
// table, sequenced by a serial offset column, via database/sql + lib/pq.
// It connects and runs its create-table migration up front, in newPostgresStore.
type postgresStore struct {
	db *sql.DB
}

const createPreparedLogTable = `
CREATE TABLE IF NOT EXISTS prepared_log_segment_0 (
	offset_num SERIAL PRIMARY KEY,
	data BYTEA NOT NULL
)`

func newPostgresStore(dsn string) (*postgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("logstore: open postgres: %w", err)
	}
	if _, err := db.Exec(createPreparedLogTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("logstore: create table: %w", err)
	}
	return &postgresStore{db: db}, nil
}

func (s *postgresStore) Append(ctx context.Context, data []byte) (LogRef, error) {
	var offset uint32
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO prepared_log_segment_0 (data) VALUES ($1) RETURNING offset_num`,
		data,
	).Scan(&offset)
	if err != nil {
		return NilLogRef, fmt.Errorf("logstore: postgres insert: %w", err)
	}
	return NewLogRef(0, offset), nil
}

func (s *postgresStore) Read(ctx context.Context, ref LogRef) ([]byte, error) {
	if ref.SegmentID() != 0 {
		return nil, fmt.Errorf("logstore: postgres backend has only segment 0, got %d", ref.SegmentID())
	}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM prepared_log_segment_0 WHERE offset_num = $1`,
		ref.Offset(),
	).Scan(&data)
	if err != nil {
		return nil, fmt.Errorf("logstore: postgres select at offset %d: %w", ref.Offset(), err)
	}
	return data, nil
}

func (s *postgresStore) Close() error {
	return s.db.Close()
}

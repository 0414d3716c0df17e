package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"relaygram/internal/content"
	logx "relaygram/pkg/logx"
)

// sqlStore serves both the sqlite and mysql drivers; only DDL and the item
// upsert differ between them.
type sqlStore struct {
	db     *sql.DB
	log    logx.Logger
	d      dialect
	queues string
	items  string
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, backoff.Permanent(errors.New("sqlite path is required"))
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, backoff.Permanent(err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st, err := newSQLStore(ctx, db, sqliteDialect, cfg.Env, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func openMySQL(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, backoff.Permanent(errors.New("mysql dsn is required"))
	}
	dsn, err := mysqlDSN(cfg.DSN)
	if err != nil {
		// Malformed DSN; retrying will not help.
		return nil, backoff.Permanent(err)
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	st, err := newSQLStore(ctx, db, mysqlDialect, cfg.Env, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// mysqlDSN forces clientFoundRows so UPDATE reports matched rows. Without it
// an update that rewrites identical data affects 0 rows and reads as a
// missing queue.
func mysqlDSN(raw string) (string, error) {
	mc, err := mysql.ParseDSN(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	mc.ClientFoundRows = true
	return mc.FormatDSN(), nil
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, env string, log logx.Logger) (*sqlStore, error) {
	sfx := tableSuffix(env)
	st := &sqlStore{
		db:     db,
		log:    log.With(logx.String("comp", "storage"), logx.String("driver", d.name)),
		d:      d,
		queues: "queues_" + sfx,
		items:  "items_" + sfx,
	}
	if err := st.migrate(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema(s.queues, s.items) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) LoadQueues(ctx context.Context) ([]QueueRow, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT qid, config_name, channel_id, data FROM %s ORDER BY qid`, s.queues))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueueRow
	for rows.Next() {
		var (
			r    QueueRow
			data string
		)
		if err := rows.Scan(&r.ID, &r.Profile, &r.Source, &data); err != nil {
			return nil, err
		}
		if err := decodeRowData(&r, data); err != nil {
			// A corrupt row must not block the remaining queues.
			s.log.Warn("skipping unreadable queue row", logx.Int64("qid", r.ID), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) CreateQueue(ctx context.Context, row QueueRow) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	data, err := encodeRowData(row)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(config_name, channel_id, data) VALUES(?,?,?)`, s.queues),
		row.Profile, row.Source, data)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqlStore) UpdateQueue(ctx context.Context, row QueueRow) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	data, err := encodeRowData(row)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET data = ? WHERE qid = ?`, s.queues), data, row.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) DeleteQueue(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE qid = ?`, s.queues), id)
	return err
}

func (s *sqlStore) PutItem(ctx context.Context, it content.RawItem, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	b, err := json.Marshal(it)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.d.upsertItem(s.items), it.Source, it.ID, string(b), at.UnixMilli())
	return err
}

func (s *sqlStore) ItemsBetween(ctx context.Context, source string, after, before int64) ([]content.RawItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE source_key = ? AND item_id > ? AND item_id < ? ORDER BY item_id`, s.items),
		source, after, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []content.RawItem
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var it content.RawItem
		if err := json.Unmarshal([]byte(payload), &it); err != nil {
			s.log.Warn("skipping unreadable journal item", logx.String("source", source), logx.Err(err))
			continue
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqlStore) PruneItems(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, s.items), cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

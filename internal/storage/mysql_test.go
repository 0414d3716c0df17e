package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaygram/internal/content"
	logx "relaygram/pkg/logx"
)

func newMockStore(t *testing.T) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS queues_prod")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS items_prod")).WillReturnResult(sqlmock.NewResult(0, 0))

	st, err := newSQLStore(context.Background(), db, mysqlDialect, "prod", logx.Nop())
	require.NoError(t, err)
	return st, mock
}

func TestMySQLQueueStatements(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO queues_prod(config_name, channel_id, data)")).
		WithArgs("shop", "1111", `{"channel_id":"1111","min_id":7,"max_id":7,"open":true}`).
		WillReturnResult(sqlmock.NewResult(42, 1))
	id, err := st.CreateQueue(ctx, QueueRow{Profile: "shop", Source: "1111", MinID: 7, MaxID: 7, Open: true})
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE queues_prod SET data = ? WHERE qid = ?")).
		WithArgs(sqlmock.AnyArg(), int64(43)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, st.UpdateQueue(ctx, QueueRow{ID: 43}), ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT qid, config_name, channel_id, data FROM queues_prod")).
		WillReturnRows(sqlmock.NewRows([]string{"qid", "config_name", "channel_id", "data"}).
			AddRow(int64(42), "shop", "1111", `{"min_id":7,"max_id":9,"open":false}`).
			AddRow(int64(44), "shop", "2222", `not json`))
	rows, err := st.LoadQueues(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, QueueRow{ID: 42, Profile: "shop", Source: "1111", MinID: 7, MaxID: 9}, rows[0])

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM queues_prod WHERE qid = ?")).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, st.DeleteQueue(ctx, 42))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLJournalStatements(t *testing.T) {
	st, mock := newMockStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE payload=VALUES(payload)")).
		WithArgs("1111", int64(5), sqlmock.AnyArg(), at.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, st.PutItem(ctx, content.RawItem{ID: 5, Source: "1111", Text: "hi"}, at))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM items_prod WHERE source_key = ? AND item_id > ? AND item_id < ?")).
		WithArgs("1111", int64(4), int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(`{"id":5,"source":"1111","text":"hi"}`))
	items, err := st.ItemsBetween(ctx, "1111", 4, 6)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "hi", items[0].Text)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM items_prod WHERE created_at < ?")).
		WithArgs(at.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := st.PruneItems(ctx, at)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDSNReportsMatchedRows(t *testing.T) {
	dsn, err := mysqlDSN(" relay:secret@tcp(db:3306)/relaygram?parseTime=true ")
	require.NoError(t, err)

	mc, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, mc.ClientFoundRows)
	assert.True(t, mc.ParseTime)
	assert.Equal(t, "db:3306", mc.Addr)
	assert.Equal(t, "relaygram", mc.DBName)

	_, err = mysqlDSN("not a dsn")
	assert.Error(t, err)
}

func TestMySQLUnchangedUpdateIsNotMissing(t *testing.T) {
	st, mock := newMockStore(t)
	row := QueueRow{ID: 42, Profile: "shop", Source: "1111", MinID: 5, MaxID: 5, Open: true}

	// with clientFoundRows the server counts the matched row even when data is identical
	mock.ExpectExec(regexp.QuoteMeta("UPDATE queues_prod SET data = ? WHERE qid = ?")).
		WithArgs(sqlmock.AnyArg(), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, st.UpdateQueue(context.Background(), row))
	require.NoError(t, mock.ExpectationsWereMet())
}

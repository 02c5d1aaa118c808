package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillm/swing-trader/internal/domain"
)

// recordingDriver запоминает последний запрос и его аргументы
type recordingDriver struct {
	mu    sync.Mutex
	query string
	args  []driver.Value
}

var recorder = &recordingDriver{}

func init() {
	sql.Register("recording", recorder)
}

func (d *recordingDriver) Open(string) (driver.Conn, error) { return recordingConn{d}, nil }

func (d *recordingDriver) last() (string, []driver.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.query, d.args
}

type recordingConn struct{ d *recordingDriver }

func (c recordingConn) Prepare(query string) (driver.Stmt, error) {
	return recordingStmt{d: c.d, query: query}, nil
}
func (c recordingConn) Close() error              { return nil }
func (c recordingConn) Begin() (driver.Tx, error) { return nil, driver.ErrSkip }

type recordingStmt struct {
	d     *recordingDriver
	query string
}

func (s recordingStmt) Close() error  { return nil }
func (s recordingStmt) NumInput() int { return -1 }

func (s recordingStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.record(args)
	return driver.RowsAffected(1), nil
}

func (s recordingStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.record(args)
	// INSERT ... RETURNING id, created_at получает одну строку, SELECT пустой
	if len(args) > 2 {
		return &returningRows{}, nil
	}
	return &returningRows{done: true}, nil
}

func (s recordingStmt) record(args []driver.Value) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.query, s.d.args = s.query, args
}

type returningRows struct{ done bool }

func (r *returningRows) Columns() []string { return []string{"id", "created_at"} }
func (r *returningRows) Close() error      { return nil }

func (r *returningRows) Next(dest []driver.Value) error {
	if r.done || len(dest) != 2 {
		return io.EOF
	}
	r.done = true
	dest[0] = int64(7)
	dest[1] = time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	return nil
}

func newRecordingDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("recording", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSignalRepository_GetByStatusIgnoresMarketCase(t *testing.T) {
	repo := NewSignalRepository(newRecordingDB(t))

	signals, err := repo.GetByStatus(context.Background(), domain.SignalStatusPending, "us")
	require.NoError(t, err)
	assert.Empty(t, signals)

	query, args := recorder.last()
	assert.Contains(t, query, "UPPER(market) = $2")
	require.Len(t, args, 2)
	assert.Equal(t, domain.SignalStatusPending, args[0])
	assert.Equal(t, "US", args[1])
}

func TestSignalRepository_InsertNormalizesMarket(t *testing.T) {
	repo := NewSignalRepository(newRecordingDB(t))

	sig := &domain.Signal{Symbol: "VOD.L", Market: "uk", EntryPrice: 100, SignalDate: time.Now()}
	require.NoError(t, repo.Insert(context.Background(), sig))
	assert.Equal(t, int64(7), sig.ID)

	_, args := recorder.last()
	require.GreaterOrEqual(t, len(args), 10)
	assert.Equal(t, "UK", args[1])
	assert.Equal(t, domain.SignalStatusPending, args[9])
}

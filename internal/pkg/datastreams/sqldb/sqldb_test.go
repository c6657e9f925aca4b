package sqldb

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"github.com/ohowland/cgc_dispatch/internal/pkg/routine"
	"gotest.tools/v3/assert"
)

func newHandler(t *testing.T, path string) Handler {
	t.Helper()
	pid, _ := uuid.NewUUID()
	h, err := New(path, msg.NewPublisher(pid))
	assert.NilError(t, err)
	return h
}

func TestGetConfig(t *testing.T) {
	h := newHandler(t, "./db_config_test.json")
	assert.Equal(t, h.config.Port, 3306)
	assert.Equal(t, h.config.Server, "localhost")
	assert.Equal(t, h.config.Driver, "mysql")
	assert.Equal(t, h.config.Table, "routine_reports")
}

func TestMySQLStatements(t *testing.T) {
	h := newHandler(t, "./db_config_test.json")
	dsn, err := h.config.dsn()
	assert.NilError(t, err)
	assert.Assert(t, strings.HasPrefix(dsn, "cgc:secret@tcp(localhost:3306)/dispatch"), dsn)
	assert.Assert(t, strings.Contains(dsn, "parseTime=true"), dsn)

	assert.Assert(t, strings.HasPrefix(h.config.createStatement(), "CREATE TABLE IF NOT EXISTS `routine_reports`"))
	assert.Assert(t, strings.HasSuffix(h.config.insertStatement(), "VALUES (?, ?, ?, ?, ?, ?, ?)"))
}

func TestPostgresStatements(t *testing.T) {
	h := newHandler(t, "./db_config_postgres_test.yaml")
	dsn, err := h.config.dsn()
	assert.NilError(t, err)
	assert.Equal(t, dsn, "host=db port=5432 user=cgc password=secret dbname=dispatch sslmode=disable")
	assert.Assert(t, strings.Contains(h.config.insertStatement(), `INSERT INTO "runs"`))
	assert.Assert(t, strings.HasSuffix(h.config.insertStatement(), "VALUES ($1, $2, $3, $4, $5, $6, $7)"))

	db, err := h.DB()
	assert.NilError(t, err)
	assert.NilError(t, db.Close())
}

func TestUnsupportedDriver(t *testing.T) {
	c := config{Driver: "sqlite3"}
	_, err := c.dsn()
	assert.ErrorIs(t, err, ErrDriver)
}

func TestReportRow(t *testing.T) {
	finished := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	report := routine.Report{
		ID:        uuid.New(),
		Routine:   "DCOPF",
		ExitCode:  0,
		ExecTime:  0.01,
		Objective: 1108,
		Success:   true,
		Finished:  finished,
	}
	row, err := reportRow(msg.New(uuid.New(), msg.Result, report))
	assert.NilError(t, err)
	assert.Equal(t, len(row), 7)
	assert.Equal(t, row[0], report.ID.String())
	assert.Equal(t, row[1], "DCOPF")
	assert.Equal(t, row[4], 1108.0)
	assert.Equal(t, row[6], finished)

	_, err = reportRow(msg.New(uuid.New(), msg.Result, 42))
	assert.ErrorIs(t, err, ErrPayload)
}

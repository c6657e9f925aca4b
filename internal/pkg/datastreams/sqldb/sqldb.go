/*
sqldb.go Records routine run reports as rows of a SQL table. MySQL and PostgreSQL are
supported; the driver is chosen by the Driver field of the config.
*/

package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	conf "github.com/ohowland/cgc_dispatch/internal/pkg/config"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"github.com/ohowland/cgc_dispatch/internal/pkg/routine"
)

var (
	// ErrDriver is returned for drivers other than mysql and postgres.
	ErrDriver = errors.New("sqldb: unsupported driver")

	// ErrPayload is returned for messages that do not carry a run report.
	ErrPayload = errors.New("sqldb: payload is not a routine report")
)

// Handler writes run reports to a SQL database.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
}

type config struct {
	Driver   string `json:"Driver" yaml:"driver"`
	Server   string `json:"Server" yaml:"server"`
	Port     int    `json:"Port" yaml:"port"`
	Username string `json:"Username" yaml:"username"`
	Password string `json:"Password" yaml:"password"`
	Database string `json:"Database" yaml:"database"`
	Table    string `json:"Table" yaml:"table"`
}

// PID of the handler process
func (h Handler) PID() uuid.UUID {
	return h.pid
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
}

// New reads the handler config and subscribes to run reports on system.
func New(configPath string, system msg.Publisher) (Handler, error) {
	cfg := config{}
	if err := conf.Load(configPath, &cfg); err != nil {
		return Handler{}, err
	}
	if cfg.Driver == "" {
		cfg.Driver = "mysql"
	}
	if cfg.Table == "" {
		cfg.Table = "routine_reports"
	}
	if _, err := cfg.dsn(); err != nil {
		return Handler{}, err
	}

	pid, _ := uuid.NewUUID()
	inbox := make(chan msg.Msg, 50)

	chResult, err := system.Subscribe(pid, msg.Result)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(chResult, inbox)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool),
	}, nil
}

// Stop ends Process.
func (h *Handler) Stop() {
	h.stop <- true
}

func (c config) dsn() (string, error) {
	switch c.Driver {
	case "mysql":
		m := mysql.NewConfig()
		m.User = c.Username
		m.Passwd = c.Password
		m.Net = "tcp"
		m.Addr = fmt.Sprintf("%v:%v", c.Server, c.Port)
		m.DBName = c.Database
		m.ParseTime = true
		return m.FormatDSN(), nil
	case "postgres":
		return fmt.Sprintf("host=%v port=%v user=%v password=%v dbname=%v sslmode=disable",
			c.Server, c.Port, c.Username, c.Password, c.Database), nil
	}
	return "", fmt.Errorf("%q: %w", c.Driver, ErrDriver)
}

func (c config) table() string {
	if c.Driver == "postgres" {
		return pq.QuoteIdentifier(c.Table)
	}
	return "`" + strings.ReplaceAll(c.Table, "`", "``") + "`"
}

func (c config) createStatement() string {
	return `CREATE TABLE IF NOT EXISTS ` + c.table() + ` (
	id VARCHAR(36) PRIMARY KEY,
	routine VARCHAR(16) NOT NULL,
	exit_code INTEGER NOT NULL,
	exec_time DOUBLE PRECISION NOT NULL,
	objective DOUBLE PRECISION NOT NULL,
	success BOOLEAN NOT NULL,
	finished TIMESTAMP NOT NULL
)`
}

func (c config) insertStatement() string {
	cols := "(id, routine, exit_code, exec_time, objective, success, finished)"
	if c.Driver == "postgres" {
		return `INSERT INTO ` + c.table() + ` ` + cols + ` VALUES ($1, $2, $3, $4, $5, $6, $7)`
	}
	return `INSERT INTO ` + c.table() + ` ` + cols + ` VALUES (?, ?, ?, ?, ?, ?, ?)`
}

// reportRow returns the insert arguments for a run report message.
func reportRow(m msg.Msg) ([]interface{}, error) {
	report, ok := m.Payload().(routine.Report)
	if !ok {
		return nil, ErrPayload
	}
	return []interface{}{
		report.ID.String(),
		report.Routine,
		report.ExitCode,
		report.ExecTime,
		report.Objective,
		report.Success,
		report.Finished.UTC(),
	}, nil
}

// DB opens the configured database.
func (h Handler) DB() (*sql.DB, error) {
	dsn, err := h.config.dsn()
	if err != nil {
		return nil, err
	}
	return sql.Open(h.config.Driver, dsn)
}

// Process creates the report table and inserts reports until Stop.
func (h Handler) Process() error {
	db, err := h.DB()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(h.config.createStatement()); err != nil {
		return err
	}
	insert := h.config.insertStatement()
	log.Printf("[SQL] Process Started on %s\n", h.config.Driver)

loop:
	for {
		select {
		case m := <-h.inbox:
			row, err := reportRow(m)
			if err != nil {
				log.Printf("[SQL] WARN %v\n", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			if _, err := db.ExecContext(ctx, insert, row...); err != nil {
				log.Printf("[SQL] WARN error %s updating db\n", err)
			}
			cancel()

		case <-h.stop:
			break loop
		}
	}
	log.Println("[SQL] Process Shutdown")
	return nil
}

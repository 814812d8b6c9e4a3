package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"

	"github.com/wikitrends/pageview-ingest/internal/config"
)

// identPattern restricts configured object names to plain Snowflake
// identifiers, since they are interpolated into DDL.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// Snowflake implements Loader against a Snowflake account. One *sql.DB is
// shared by all workers; connection setup is expensive, so pooling is the
// point.
type Snowflake struct {
	db     *sql.DB
	schema string
	stage  string
	table  string
	log    *slog.Logger
}

// NewSnowflake opens a pooled Snowflake connection and verifies it with a
// ping. Credentials live only inside the driver DSN and are never logged.
func NewSnowflake(ctx context.Context, cfg config.SnowflakeConfig, log *slog.Logger) (*Snowflake, error) {
	if log == nil {
		log = slog.Default()
	}

	for name, val := range map[string]string{
		"schema": cfg.Schema, "stage": cfg.Stage, "table": cfg.Table,
	} {
		if !identPattern.MatchString(val) {
			return nil, fmt.Errorf("invalid %s name %q", name, val)
		}
	}

	dsn, err := sf.DSN(&sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Role:      cfg.Role,
		Warehouse: cfg.Warehouse,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
	})
	if err != nil {
		return nil, fmt.Errorf("build snowflake DSN: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Op: "ping", Err: err}
	}

	log.Info("connected to snowflake",
		"account", cfg.Account, "database", cfg.Database, "schema", cfg.Schema)

	return &Snowflake{
		db:     db,
		schema: strings.ToUpper(cfg.Schema),
		stage:  strings.ToUpper(cfg.Stage),
		table:  strings.ToUpper(cfg.Table),
		log:    log,
	}, nil
}

// EnsureSchema creates the target schema if absent.
func (s *Snowflake) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.schema)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return s.classify("ensure schema", "", err)
	}
	s.log.Debug("schema ready", "schema", s.schema)
	return nil
}

// EnsureStageAndTable creates the internal stage and the raw table if
// absent, with the fixed raw-table column layout downstream models consume.
func (s *Snowflake) EnsureStageAndTable(ctx context.Context) error {
	stageStmt := fmt.Sprintf("CREATE STAGE IF NOT EXISTS %s.%s", s.schema, s.stage)
	if _, err := s.db.ExecContext(ctx, stageStmt); err != nil {
		return s.classify("ensure stage", "", err)
	}

	tableStmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
		PROJECT_CODE VARCHAR,
		PAGE_TITLE VARCHAR,
		VIEW_COUNT NUMBER,
		BYTE_SIZE NUMBER,
		FILE_NAME VARCHAR,
		LOAD_TIMESTAMP TIMESTAMP_NTZ DEFAULT CURRENT_TIMESTAMP()
	)`, s.schema, s.table)
	if _, err := s.db.ExecContext(ctx, tableStmt); err != nil {
		return s.classify("ensure table", "", err)
	}

	s.log.Debug("stage and table ready", "stage", s.stage, "table", s.table)
	return nil
}

// Upload PUTs a local text file into the stage. OVERWRITE=TRUE keeps the
// stage free of duplicate copies when the same filename is uploaded again.
func (s *Snowflake) Upload(ctx context.Context, localPath string) error {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return fmt.Errorf("resolve path %s: %w", localPath, err)
	}

	fileName := filepath.Base(abs)
	s.log.Info("uploading to stage", "file", fileName, "stage", s.stage)

	stmt := fmt.Sprintf("PUT file://%s @%s.%s AUTO_COMPRESS=FALSE OVERWRITE=TRUE",
		filepath.ToSlash(abs), s.schema, s.stage)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return s.classify("upload", fileName, err)
	}
	return nil
}

// CopyIntoTable appends the staged file's rows to the raw table. The dump
// format is space-delimited: project code, page title, view count, byte
// size. Every row of the batch shares the same file name and loadedAt
// timestamp so incremental consumers can filter by recency.
func (s *Snowflake) CopyIntoTable(ctx context.Context, fileName string, loadedAt time.Time) (int64, error) {
	s.log.Info("copying into table", "file", fileName, "table", s.table)

	stmt := fmt.Sprintf(`COPY INTO %s.%s (PROJECT_CODE, PAGE_TITLE, VIEW_COUNT, BYTE_SIZE, FILE_NAME, LOAD_TIMESTAMP)
		FROM (SELECT $1, $2, $3, $4, '%s', TO_TIMESTAMP_NTZ('%s') FROM @%s.%s/%s)
		FILE_FORMAT = (
			TYPE = CSV
			FIELD_DELIMITER = ' '
			SKIP_HEADER = 0
			ERROR_ON_COLUMN_COUNT_MISMATCH = FALSE
			NULL_IF = ('')
			EMPTY_FIELD_AS_NULL = TRUE
		)
		ON_ERROR = 'CONTINUE'`,
		s.schema, s.table,
		escapeSQL(fileName), loadedAt.UTC().Format("2006-01-02 15:04:05"),
		s.schema, s.stage, escapeSQL(fileName))

	res, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, s.classify("copy", fileName, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		rows = 0
	}
	s.log.Info("copy complete", "file", fileName, "rows", rows)
	return rows, nil
}

// Close releases the connection pool.
func (s *Snowflake) Close() error {
	return s.db.Close()
}

func (s *Snowflake) classify(op, fileName string, err error) error {
	return classifyError(op, fileName, err)
}

// classifyError splits driver errors into ConnectionError (retryable) and
// LoadError (data rejected). Transport-level failures always come back as
// ConnectionError; a server-side error on the copy statement means the
// warehouse saw the data and refused it.
func classifyError(op, fileName string, err error) error {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return &ConnectionError{Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ConnectionError{Op: op, Err: err}
	}

	var sfErr *sf.SnowflakeError
	if errors.As(err, &sfErr) {
		// Client-side driver errors (26xxxx) are transport problems.
		if sfErr.Number >= 260000 && sfErr.Number < 270000 {
			return &ConnectionError{Op: op, Err: err}
		}
		if op == "copy" {
			return &LoadError{FileName: fileName, Err: err}
		}
	}

	if op == "copy" && fileName != "" {
		return &LoadError{FileName: fileName, Err: err}
	}
	return &ConnectionError{Op: op, Err: err}
}

// escapeSQL doubles single quotes for literal interpolation.
func escapeSQL(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

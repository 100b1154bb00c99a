package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // Import Postgres driver.
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/determined-ai/rcq/internal/config"
	"github.com/determined-ai/rcq/pkg/model"
)

const (
	cnxTpl       = "postgres://%s:%s@%s:%s/%s"
	sslTpl       = "?sslmode=%s&sslrootcert=%s"
	maxOpenConns = 16
)

var (
	connectTries = 15
	connectWait  = 4 * time.Second
)

// PgDB represents a Postgres database connection.
type PgDB struct {
	sql *sqlx.DB
	bun *bun.DB
}

// Connect connects to the database described by opts.
func Connect(opts *config.PostgresConfig) (*PgDB, error) {
	dbURL := fmt.Sprintf(cnxTpl, opts.User, opts.Password, opts.Host, opts.Port, opts.Name)
	dbURL += fmt.Sprintf(sslTpl, opts.SSLMode, opts.SSLRootCert)
	log.Infof("connecting to database %s:%s", opts.Host, opts.Port)
	db, err := ConnectPostgres(dbURL)
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to database: %s:%s", opts.Host, opts.Port)
	}
	db.sql.SetMaxOpenConns(maxOpenConns)
	return db, nil
}

// ConnectPostgres connects to a Postgres database, retrying while it comes up.
func ConnectPostgres(url string) (*PgDB, error) {
	numTries := 0
	for {
		sql, err := sqlx.Connect("pgx", url)
		if err == nil {
			return newPgDB(sql), nil
		}
		numTries++
		if numTries >= connectTries {
			return nil, errors.Wrapf(err, "could not connect to database after %v tries", numTries)
		}
		log.WithError(err).Warnf("failed to connect to postgres, trying again in %s", connectWait)
		time.Sleep(connectWait)
	}
}

func newPgDB(sql *sqlx.DB) *PgDB {
	b := bun.NewDB(sql.DB, pgdialect.New())
	if log.IsLevelEnabled(log.DebugLevel) {
		b.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.WithWriter(log.StandardLogger().WriterLevel(log.DebugLevel)),
		))
	}
	return &PgDB{sql: sql, bun: b}
}

// Bun returns the bun handle of the connection.
func (db *PgDB) Bun() *bun.DB {
	return db.bun
}

// Close closes the underlying connection.
func (db *PgDB) Close() error {
	return db.bun.Close()
}

// Migrate creates the tables and indexes the catalog needs, if they do not exist yet.
func (db *PgDB) Migrate(ctx context.Context) error {
	if _, err := db.bun.NewCreateTable().
		Model((*model.JobHistory)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return errors.Wrap(err, "creating job_history")
	}
	// Tables created before sources could be removed lack the flag.
	if _, err := db.bun.NewAddColumn().
		Model((*model.JobHistory)(nil)).
		IfNotExists().
		ColumnExpr("source_removed boolean NOT NULL DEFAULT false").
		Exec(ctx); err != nil {
		return errors.Wrap(err, "adding job_history.source_removed")
	}
	for _, idx := range []struct {
		name string
		expr string
	}{
		{"ix_job_history_source", "lower(source_path)"},
		{"ix_job_history_product", "platform, lower(relative_path)"},
	} {
		if _, err := db.bun.NewCreateIndex().
			Model((*model.JobHistory)(nil)).
			Index(idx.name).
			IfNotExists().
			ColumnExpr(idx.expr).
			Exec(ctx); err != nil {
			return errors.Wrapf(err, "creating index %s", idx.name)
		}
	}
	return nil
}

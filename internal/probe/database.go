package probe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

// DatabaseProbe confirms that conn.Database exists on the server.
type DatabaseProbe func(ctx context.Context, conn *models.Connection, timeout time.Duration) error

func defaultDatabaseProbes() map[string]DatabaseProbe {
	return map[string]DatabaseProbe{
		"postgres":  probePostgres("postgres"),
		"redshift":  probePostgres("dev"),
		"mysql":     probeMySQL,
		"sqlserver": probeSQLServer,
	}
}

// probePostgres connects to the maintenance database and looks the target up in
// pg_database, so a missing database is distinguishable from bad credentials.
func probePostgres(maintenanceDB string) DatabaseProbe {
	return func(ctx context.Context, conn *models.Connection, timeout time.Duration) error {
		connStr := fmt.Sprintf(
			"postgresql://%s:%s@%s/%s?connect_timeout=%d",
			url.QueryEscape(conn.Username),
			url.QueryEscape(conn.Password),
			net.JoinHostPort(conn.Hostname, strconv.Itoa(conn.Port)),
			maintenanceDB,
			int(timeout.Seconds()),
		)
		pg, err := pgx.Connect(ctx, connStr)
		if err != nil {
			return fmt.Errorf("connect to %s:%d: %v: %w", conn.Hostname, conn.Port, err, apperrors.ErrConnection)
		}
		defer pg.Close(context.WithoutCancel(ctx))

		var one int
		err = pg.QueryRow(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", conn.Database).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("database %q: %w", conn.Database, apperrors.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("look up database %q: %v: %w", conn.Database, err, apperrors.ErrConnection)
		}
		return nil
	}
}

func probeMySQL(ctx context.Context, conn *models.Connection, timeout time.Duration) error {
	cfg := mysql.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = conn.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(conn.Hostname, strconv.Itoa(conn.Port))
	cfg.Timeout = timeout

	return probeSQL(ctx, "mysql", cfg.FormatDSN(), conn,
		"SELECT 1 FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?")
}

func probeSQLServer(ctx context.Context, conn *models.Connection, timeout time.Duration) error {
	query := url.Values{}
	query.Add("database", "master")
	query.Add("dial timeout", strconv.Itoa(int(timeout.Seconds())))
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(conn.Username, conn.Password),
		Host:     net.JoinHostPort(conn.Hostname, strconv.Itoa(conn.Port)),
		RawQuery: query.Encode(),
	}
	return probeSQL(ctx, "sqlserver", u.String(), conn,
		"SELECT 1 FROM sys.databases WHERE name = @p1")
}

func probeSQL(ctx context.Context, driver, dsn string, conn *models.Connection, query string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open %s connection: %v: %w", driver, err, apperrors.ErrConnection)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to %s:%d: %v: %w", conn.Hostname, conn.Port, err, apperrors.ErrConnection)
	}

	var one int
	err = db.QueryRowContext(ctx, query, conn.Database).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("database %q: %w", conn.Database, apperrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("look up database %q: %v: %w", conn.Database, err, apperrors.ErrConnection)
	}
	return nil
}

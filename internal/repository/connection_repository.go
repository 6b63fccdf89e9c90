package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

// StoredConnection is a login_credentials row. Password holds the ciphertext.
type StoredConnection struct {
	models.Connection
	EncryptedPassword string
}

type ConnectionRepository interface {
	Insert(ctx context.Context, conn StoredConnection) error
	Exists(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) (*StoredConnection, error)
}

type connectionRepository struct {
	db querier
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `connection_name, connection_string, username, connection_type, password,
	hostname, port, database_or_file, dir_path, created_at`

func (r *connectionRepository) Insert(ctx context.Context, conn StoredConnection) error {
	query := `
		INSERT INTO dq.login_credentials
			(connection_name, connection_string, username, connection_type, password,
			 hostname, port, database_or_file, dir_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		conn.Name,
		conn.ConnectionString,
		conn.Username,
		conn.ConnectionType,
		conn.EncryptedPassword,
		conn.Hostname,
		conn.Port,
		conn.Target(),
		nullString(conn.DirPath),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("connection %q already exists: %w", conn.Name, apperrors.ErrInvalidInput)
		}
		return err
	}
	return nil
}

func (r *connectionRepository) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM dq.login_credentials WHERE connection_name = $1)`, name,
	).Scan(&exists)
	return exists, err
}

func (r *connectionRepository) Get(ctx context.Context, name string) (*StoredConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM dq.login_credentials WHERE connection_name = $1`

	var (
		conn      StoredConnection
		target    string
		dirPath   sql.NullString
		createdAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&conn.Name,
		&conn.ConnectionString,
		&conn.Username,
		&conn.ConnectionType,
		&conn.EncryptedPassword,
		&conn.Hostname,
		&conn.Port,
		&target,
		&dirPath,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("connection %q: %w", name, apperrors.ErrNotFound)
		}
		return nil, err
	}

	if conn.Kind() == models.KindDatabase {
		conn.Database = target
	} else {
		conn.FileName = target
		conn.DirPath = dirPath.String
	}
	if createdAt.Valid {
		conn.CreatedAt = &createdAt.Time
	}
	return &conn, nil
}

// Package registry stores and resolves named connection credentials.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/repository"
	"github.com/stanstork/stratum-dq/internal/retry"
	"github.com/stanstork/stratum-dq/internal/utils"
)

// PasswordCipher encrypts passwords before they reach the store.
type PasswordCipher interface {
	EncryptPassword(plain string) (string, error)
	DecryptPassword(encoded string) (string, error)
}

type Registry struct {
	repo   repository.ConnectionRepository
	cipher PasswordCipher
	retry  *retry.Config
	logger zerolog.Logger

	now    func() time.Time
	suffix func() int
}

func New(repo repository.ConnectionRepository, cipher PasswordCipher, logger zerolog.Logger) *Registry {
	return &Registry{
		repo:   repo,
		cipher: cipher,
		retry:  retry.DefaultConfig(),
		logger: logger.With().Str("component", "connection-registry").Logger(),
		now:    time.Now,
		suffix: func() int { return 100000 + rand.IntN(900000) },
	}
}

// GenerateUniqueName builds {timestamp}_{user}_{host}_{port}_{target}_{suffix}.
// Fragments are alphanumeric so the separators keep distinct inputs distinct.
// Collisions are not checked against the store.
func (r *Registry) GenerateUniqueName(conn *models.Connection) string {
	target := conn.Target()
	if target == "" || conn.Kind() == models.KindOther {
		target = conn.ConnectionType
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s_%d",
		r.now().UTC().Format("20060102150405"),
		utils.Sanitize(conn.Username),
		utils.Sanitize(conn.Hostname),
		strconv.Itoa(conn.Port),
		utils.Sanitize(target),
		r.suffix(),
	)
}

// Insert persists conn under name with its password encrypted.
func (r *Registry) Insert(ctx context.Context, conn *models.Connection, name string) error {
	encrypted, err := r.cipher.EncryptPassword(conn.Password)
	if err != nil {
		return fmt.Errorf("encrypt password: %w", err)
	}

	stored := repository.StoredConnection{Connection: *conn, EncryptedPassword: encrypted}
	stored.Name = name
	stored.Password = ""
	stored.ConnectionString = conn.GenerateConnString()

	err = retry.DoIfRetryable(ctx, r.retry, func() error {
		return r.repo.Insert(ctx, stored)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("store connection %q: %v: %w", name, err, apperrors.ErrPersistence)
	}

	conn.Name = name
	conn.ConnectionString = stored.ConnectionString
	r.logger.Info().Str("connection_name", name).Str("connection_type", conn.ConnectionType).Msg("Connection registered")
	return nil
}

func (r *Registry) Search(ctx context.Context, name string) (bool, error) {
	exists, err := retry.DoWithResult(ctx, r.retry, func() (bool, error) {
		return r.repo.Exists(ctx, name)
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("search connection %q: %v: %w", name, err, apperrors.ErrConnection)
	}
	return exists, nil
}

// ResolveCredentials loads the connection and decrypts its password.
func (r *Registry) ResolveCredentials(ctx context.Context, name string) (*models.Connection, error) {
	stored, err := retry.DoWithResult(ctx, r.retry, func() (*repository.StoredConnection, error) {
		return r.repo.Get(ctx, name)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("resolve connection %q: %v: %w", name, err, apperrors.ErrConnection)
	}

	password, err := r.cipher.DecryptPassword(stored.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt password for %q: %w", name, apperrors.ErrCredentialsKey)
	}

	conn := stored.Connection
	conn.Password = password
	return &conn, nil
}

// Package probe checks that a connection's database or file is reachable before
// the connection is registered.
package probe

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

type Verifier struct {
	files      FileStore
	databases  map[string]DatabaseProbe
	introspect bool
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewVerifier builds a verifier with the built-in database probes. files may be
// nil, in which case file connections are accepted without a remote check.
func NewVerifier(files FileStore, introspect bool, timeout time.Duration, logger zerolog.Logger) *Verifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{
		files:      files,
		databases:  defaultDatabaseProbes(),
		introspect: introspect,
		timeout:    timeout,
		logger:     logger.With().Str("component", "probe").Logger(),
	}
}

// WithDatabaseProbe replaces the probe used for connectionType.
func (v *Verifier) WithDatabaseProbe(connectionType string, p DatabaseProbe) *Verifier {
	v.databases[connectionType] = p
	return v
}

// Verify checks that conn points at something that exists. For file connections
// with introspection enabled it also returns the file's column names.
func (v *Verifier) Verify(ctx context.Context, conn *models.Connection) ([]string, error) {
	connType := strings.ToLower(strings.TrimSpace(conn.ConnectionType))
	kind, ok := models.KindOf(connType)
	if !ok {
		return nil, fmt.Errorf("connection type %q: %w", conn.ConnectionType, apperrors.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*v.timeout)
	defer cancel()

	switch kind {
	case models.KindDatabase:
		probe, ok := v.databases[connType]
		if !ok {
			v.logger.Debug().Str("type", connType).Msg("No database probe for connection type, skipping check")
			return nil, nil
		}
		return nil, probe(ctx, conn, v.timeout)
	case models.KindFile:
		return v.verifyFile(ctx, connType, conn)
	default:
		return nil, fmt.Errorf("connection type %q: %w", conn.ConnectionType, apperrors.ErrUnsupportedSource)
	}
}

func (v *Verifier) verifyFile(ctx context.Context, connType string, conn *models.Connection) ([]string, error) {
	if err := CheckExtension(connType, conn.FileName); err != nil {
		return nil, err
	}
	if v.files == nil {
		return nil, nil
	}
	if err := v.files.Locate(ctx, conn); err != nil {
		return nil, err
	}
	if !v.introspect {
		return nil, nil
	}

	limit := int64(headBytes)
	if wholeFile(connType) {
		limit = 0
	}
	data, err := v.files.Read(ctx, conn, limit)
	if err != nil {
		return nil, err
	}
	cols, err := Columns(connType, data)
	if err != nil {
		// Column discovery is informational; the file exists.
		v.logger.Warn().Err(err).Str("file", conn.FileName).Msg("Failed to read file columns")
		return nil, nil
	}
	return cols, nil
}

// CheckExtension requires the file extension to match the connection type.
// fileserver connections accept any file.
func CheckExtension(connType, fileName string) error {
	if connType == "fileserver" {
		return nil
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(fileName)), ".")
	if ext != connType {
		return fmt.Errorf("file %q does not have a .%s extension: %w", fileName, connType, apperrors.ErrInvalidInput)
	}
	return nil
}

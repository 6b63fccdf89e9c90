// Package datasource maps a stored connection to the engine configuration and
// batch request shape for its kind.
package datasource

import (
	"fmt"
	"math/rand/v2"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/engine"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/utils"
)

const (
	RuntimeConnector    = "default_runtime_data_connector_name"
	InferredConnector   = "default_inferred_data_connector_name"
	ConfiguredConnector = "default_configured_data_connector_name"
)

// Source is the resolved, kind-specific view of a connection for one job.
type Source interface {
	Kind() models.SourceKind
	DatasourceName() string
	// Target is the table or file being validated.
	Target() string
	SuiteName() string
	Config() engine.DatasourceConfig
	BatchRequest(limit int) engine.BatchRequest
}

// Resolver is stateless apart from its random token source.
type Resolver struct {
	token func() string
}

func NewResolver() *Resolver {
	return &Resolver{token: func() string { return fmt.Sprintf("%04d", 1000+rand.IntN(9000)) }}
}

// Resolve picks the typed branch for conn's connection type.
func (r *Resolver) Resolve(conn *models.Connection, ds models.DataSource) (Source, error) {
	kind, ok := models.KindOf(conn.ConnectionType)
	if !ok {
		return nil, fmt.Errorf("connection type %q: %w", conn.ConnectionType, apperrors.ErrUnsupportedSource)
	}

	switch kind {
	case models.KindDatabase:
		return r.database(conn, ds)
	case models.KindFile:
		return r.file(conn, ds)
	default:
		return nil, fmt.Errorf("connection type %q has no datasource builder: %w", conn.ConnectionType, apperrors.ErrUnsupportedSource)
	}
}

func (r *Resolver) database(conn *models.Connection, ds models.DataSource) (*DatabaseSource, error) {
	if ds.TableName == "" {
		return nil, fmt.Errorf("data_source.table_name is required for %s connections: %w", conn.ConnectionType, apperrors.ErrConfiguration)
	}
	schema := ds.SchemaName
	if schema == "" {
		schema = conn.Database
	}
	src := &DatabaseSource{
		Type:     strings.ToLower(conn.ConnectionType),
		Host:     conn.Hostname,
		Port:     conn.Port,
		Username: conn.Username,
		Password: conn.Password,
		Database: conn.Database,
		Schema:   schema,
		Table:    ds.TableName,
	}
	src.name = fmt.Sprintf("%s_table_%s", utils.Sanitize(src.Table), r.token())
	src.suite = fmt.Sprintf("%s_%s_%s", src.name, utils.Sanitize(src.Table), shortID())
	return src, nil
}

func (r *Resolver) file(conn *models.Connection, ds models.DataSource) (*FileSource, error) {
	fileName, dirPath := conn.FileName, conn.DirPath
	if ds.FileName != "" {
		fileName = ds.FileName
	}
	if ds.DirPath != "" {
		dirPath = ds.DirPath
	}
	if fileName == "" || dirPath == "" {
		return nil, fmt.Errorf("file_name and dir_path are required for %s connections: %w", conn.ConnectionType, apperrors.ErrConfiguration)
	}
	src := &FileSource{
		Type:     strings.ToLower(conn.ConnectionType),
		Host:     conn.Hostname,
		Port:     conn.Port,
		Username: conn.Username,
		Password: conn.Password,
		DirPath:  dirPath,
		FileName: fileName,
	}
	src.name = fmt.Sprintf("%s_file_%s", utils.Sanitize(strings.TrimSuffix(fileName, path.Ext(fileName))), r.token())
	src.suite = fmt.Sprintf("%s_%s_%s", src.name, utils.Sanitize(fileName), shortID())
	return src, nil
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

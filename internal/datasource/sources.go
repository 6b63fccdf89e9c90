package datasource

import (
	"github.com/stanstork/stratum-dq/internal/engine"
	"github.com/stanstork/stratum-dq/internal/models"
)

var driverNames = map[string]string{
	"mysql":      "mysql+pymysql",
	"postgres":   "postgresql+psycopg2",
	"redshift":   "redshift+psycopg2",
	"snowflake":  "snowflake",
	"bigquery":   "bigquery",
	"athena":     "awsathena+rest",
	"trino":      "trino",
	"clickhouse": "clickhousedb",
	"sqlserver":  "mssql+pyodbc",
}

// DatabaseSource validates one table through the SQL execution engine.
type DatabaseSource struct {
	Type     string
	Host     string
	Port     int
	Username string
	Password string
	Database string
	Schema   string
	Table    string

	name  string
	suite string
}

func (s *DatabaseSource) Kind() models.SourceKind { return models.KindDatabase }
func (s *DatabaseSource) DatasourceName() string  { return s.name }
func (s *DatabaseSource) Target() string          { return s.Table }
func (s *DatabaseSource) SuiteName() string       { return s.suite }

func (s *DatabaseSource) Config() engine.DatasourceConfig {
	return engine.DatasourceConfig{
		Name: s.name,
		Document: map[string]any{
			"class_name": "Datasource",
			"execution_engine": map[string]any{
				"class_name": "SqlAlchemyExecutionEngine",
				"credentials": map[string]any{
					"host":       s.Host,
					"port":       s.Port,
					"username":   s.Username,
					"password":   s.Password,
					"database":   s.Database,
					"drivername": driverNames[s.Type],
				},
			},
			"data_connectors": map[string]any{
				RuntimeConnector: map[string]any{
					"class_name":        "RuntimeDataConnector",
					"batch_identifiers": []string{"default_identifier_name"},
				},
				InferredConnector: map[string]any{
					"class_name":          "InferredAssetSqlDataConnector",
					"include_schema_name": true,
					"introspection_directives": map[string]any{
						"schema_name": s.Schema,
					},
				},
				ConfiguredConnector: map[string]any{
					"class_name": "ConfiguredAssetSqlDataConnector",
					"assets": map[string]any{
						s.Table: map[string]any{
							"class_name":  "Asset",
							"schema_name": s.Schema,
						},
					},
				},
			},
		},
	}
}

func (s *DatabaseSource) BatchRequest(limit int) engine.BatchRequest {
	return engine.BatchRequest{
		DatasourceName:    s.name,
		DataConnectorName: ConfiguredConnector,
		DataAssetName:     s.Table,
		Limit:             limit,
	}
}

// FileSource validates one file under a base directory through the pandas engine.
type FileSource struct {
	Type     string
	Host     string
	Port     int
	Username string
	Password string
	DirPath  string
	FileName string

	name  string
	suite string
}

func (s *FileSource) Kind() models.SourceKind { return models.KindFile }
func (s *FileSource) DatasourceName() string  { return s.name }
func (s *FileSource) Target() string          { return s.FileName }
func (s *FileSource) SuiteName() string       { return s.suite }

func (s *FileSource) Config() engine.DatasourceConfig {
	return engine.DatasourceConfig{
		Name: s.name,
		Document: map[string]any{
			"class_name": "Datasource",
			"execution_engine": map[string]any{
				"class_name": "PandasExecutionEngine",
			},
			"data_connectors": map[string]any{
				RuntimeConnector: map[string]any{
					"class_name":        "RuntimeDataConnector",
					"batch_identifiers": []string{"default_identifier_name"},
				},
				InferredConnector: map[string]any{
					"class_name":     "InferredAssetFilesystemDataConnector",
					"base_directory": s.DirPath,
					"default_regex": map[string]any{
						"group_names": []string{"data_asset_name"},
						"pattern":     "(.*)",
					},
				},
			},
		},
	}
}

func (s *FileSource) BatchRequest(limit int) engine.BatchRequest {
	return engine.BatchRequest{
		DatasourceName:    s.name,
		DataConnectorName: InferredConnector,
		DataAssetName:     s.FileName,
		Limit:             limit,
	}
}

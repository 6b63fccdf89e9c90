package datasource

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

func fixedResolver() *Resolver {
	return &Resolver{token: func() string { return "4242" }}
}

func TestResolveDatabase(t *testing.T) {
	conn := &models.Connection{ConnectionType: "MySQL", Hostname: "db", Port: 3306, Username: "u", Password: "p", Database: "shop"}
	src, err := fixedResolver().Resolve(conn, models.DataSource{TableName: "order_items", Limit: 500})
	require.NoError(t, err)

	db, ok := src.(*DatabaseSource)
	require.True(t, ok)
	assert.Equal(t, models.KindDatabase, src.Kind())
	assert.Equal(t, "shop", db.Schema, "schema defaults to the database")
	assert.Equal(t, "orderitems_table_4242", src.DatasourceName())
	assert.Regexp(t, regexp.MustCompile(`^orderitems_table_4242_orderitems_[0-9a-f]{8}$`), src.SuiteName())

	cfg := src.Config()
	assert.Equal(t, "orderitems_table_4242", cfg.Name)
	creds := cfg.Document["execution_engine"].(map[string]any)["credentials"].(map[string]any)
	assert.Equal(t, "mysql+pymysql", creds["drivername"])
	assert.Equal(t, "p", creds["password"])

	connectors := cfg.Document["data_connectors"].(map[string]any)
	assets := connectors[ConfiguredConnector].(map[string]any)["assets"].(map[string]any)
	assert.Contains(t, assets, "order_items")

	req := src.BatchRequest(500)
	assert.Equal(t, ConfiguredConnector, req.DataConnectorName)
	assert.Equal(t, "order_items", req.DataAssetName)
	assert.Equal(t, 500, req.Limit)
}

func TestResolveDatabaseRequiresTable(t *testing.T) {
	conn := &models.Connection{ConnectionType: "postgres", Database: "shop"}
	_, err := fixedResolver().Resolve(conn, models.DataSource{})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestResolveFile(t *testing.T) {
	conn := &models.Connection{ConnectionType: "csv", Hostname: "files", Port: 22, Username: "u", Password: "p", FileName: "customers.csv", DirPath: "/data/in"}
	src, err := fixedResolver().Resolve(conn, models.DataSource{})
	require.NoError(t, err)

	assert.Equal(t, models.KindFile, src.Kind())
	assert.Equal(t, "customers_file_4242", src.DatasourceName())
	assert.Equal(t, "customers.csv", src.Target())

	cfg := src.Config()
	inferred := cfg.Document["data_connectors"].(map[string]any)[InferredConnector].(map[string]any)
	assert.Equal(t, "/data/in", inferred["base_directory"])

	req := src.BatchRequest(0)
	assert.Equal(t, InferredConnector, req.DataConnectorName)
	assert.Equal(t, "customers.csv", req.DataAssetName)
	assert.Zero(t, req.Limit)
}

func TestResolveFileOverride(t *testing.T) {
	conn := &models.Connection{ConnectionType: "json", FileName: "a.json", DirPath: "/d"}
	src, err := fixedResolver().Resolve(conn, models.DataSource{FileName: "b.json", DirPath: "/e"})
	require.NoError(t, err)
	assert.Equal(t, "b.json", src.Target())
	assert.Equal(t, "/e", src.(*FileSource).DirPath)
}

func TestResolveUnsupported(t *testing.T) {
	for _, typ := range []string{"sap", "streaming", "oracle"} {
		t.Run(typ, func(t *testing.T) {
			_, err := fixedResolver().Resolve(&models.Connection{ConnectionType: typ}, models.DataSource{})
			assert.ErrorIs(t, err, apperrors.ErrUnsupportedSource)
		})
	}
}

func TestSuiteNamesDoNotCollide(t *testing.T) {
	conn := &models.Connection{ConnectionType: "postgres", Database: "shop"}
	r := fixedResolver()
	a, err := r.Resolve(conn, models.DataSource{TableName: "t"})
	require.NoError(t, err)
	b, err := r.Resolve(conn, models.DataSource{TableName: "t"})
	require.NoError(t, err)
	assert.Equal(t, a.DatasourceName(), b.DatasourceName())
	assert.NotEqual(t, a.SuiteName(), b.SuiteName())
}

func TestConfigRendersYAML(t *testing.T) {
	conn := &models.Connection{ConnectionType: "postgres", Hostname: "db", Port: 5432, Username: "u", Password: "p", Database: "shop"}
	src, err := fixedResolver().Resolve(conn, models.DataSource{TableName: "orders", SchemaName: "public"})
	require.NoError(t, err)

	out, err := src.Config().YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "name: orders_table_4242")
	assert.Contains(t, string(out), "schema_name: public")
	assert.Contains(t, string(out), "drivername: postgresql+psycopg2")
}

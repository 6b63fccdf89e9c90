package probe

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

type fakeFiles struct {
	files   map[string][]byte
	located int
	limits  []int64
}

func (f *fakeFiles) Locate(_ context.Context, conn *models.Connection) error {
	f.located++
	if _, ok := f.files[conn.FileName]; !ok {
		return fmt.Errorf("file %s: %w", conn.FileName, apperrors.ErrNotFound)
	}
	return nil
}

func (f *fakeFiles) Read(_ context.Context, conn *models.Connection, limit int64) ([]byte, error) {
	f.limits = append(f.limits, limit)
	return f.files[conn.FileName], nil
}

func fileConn(typ, name string) *models.Connection {
	return &models.Connection{ConnectionType: typ, Hostname: "files", Port: 22, Username: "u", Password: "p", FileName: name, DirPath: "/data"}
}

func TestCheckExtension(t *testing.T) {
	cases := []struct {
		typ, file string
		ok        bool
	}{
		{"csv", "orders.csv", true},
		{"csv", "orders.CSV", true},
		{"csv", "orders.json", false},
		{"parquet", "part-0.parquet", true},
		{"json", "events", false},
		{"fileserver", "anything.bin", true},
	}
	for _, tc := range cases {
		t.Run(tc.typ+"/"+tc.file, func(t *testing.T) {
			err := CheckExtension(tc.typ, tc.file)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			}
		})
	}
}

func TestVerifyFileIntrospectsColumns(t *testing.T) {
	files := &fakeFiles{files: map[string][]byte{"orders.csv": []byte("id,email,amount\n1,a@b.c,3\n")}}
	v := NewVerifier(files, true, time.Second, zerolog.Nop())

	cols, err := v.Verify(context.Background(), fileConn("csv", "orders.csv"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email", "amount"}, cols)
	assert.Equal(t, []int64{headBytes}, files.limits)
}

func TestVerifyFileMissing(t *testing.T) {
	v := NewVerifier(&fakeFiles{files: map[string][]byte{}}, true, time.Second, zerolog.Nop())
	_, err := v.Verify(context.Background(), fileConn("csv", "missing.csv"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestVerifyFileBadExtensionSkipsRemote(t *testing.T) {
	files := &fakeFiles{files: map[string][]byte{"orders.json": nil}}
	v := NewVerifier(files, false, time.Second, zerolog.Nop())
	_, err := v.Verify(context.Background(), fileConn("csv", "orders.json"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Zero(t, files.located)
}

func TestVerifyDatabaseUsesProbe(t *testing.T) {
	var probed string
	v := NewVerifier(nil, false, time.Second, zerolog.Nop()).
		WithDatabaseProbe("postgres", func(_ context.Context, conn *models.Connection, _ time.Duration) error {
			probed = conn.Database
			return fmt.Errorf("database %q: %w", conn.Database, apperrors.ErrNotFound)
		})

	_, err := v.Verify(context.Background(), &models.Connection{ConnectionType: "Postgres", Database: "shop"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, "shop", probed)
}

func TestVerifyDatabaseWithoutProbe(t *testing.T) {
	v := NewVerifier(nil, false, time.Second, zerolog.Nop())
	_, err := v.Verify(context.Background(), &models.Connection{ConnectionType: "snowflake", Database: "wh"})
	assert.NoError(t, err)
}

func TestVerifyRejectsUnknownAndOtherKinds(t *testing.T) {
	v := NewVerifier(nil, false, time.Second, zerolog.Nop())

	_, err := v.Verify(context.Background(), &models.Connection{ConnectionType: "oracle"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = v.Verify(context.Background(), &models.Connection{ConnectionType: "sap"})
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedSource)
}

func TestJSONColumns(t *testing.T) {
	cols, err := Columns("json", []byte(`[{"b": 1, "a": 2}, {"c": 3}]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cols)

	cols, err = Columns("json", []byte("{\"id\": 1, \"name\": \"x\"}\n{\"id\": 2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)

	_, err = Columns("json", []byte(`"scalar"`))
	assert.Error(t, err)
}

func TestParquetColumns(t *testing.T) {
	schema := `{
	  "Tag": "name=parquet_go_root, repetitiontype=REQUIRED",
	  "Fields": [
	    {"Tag": "name=id, type=INT64, repetitiontype=OPTIONAL"},
	    {"Tag": "name=customer_name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"}
	  ]
	}`
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(schema, pfw, 1)
	require.NoError(t, err)
	require.NoError(t, pw.Write(`{"id": 1, "customer_name": "ada"}`))
	require.NoError(t, pw.WriteStop())
	require.NoError(t, pfw.Close())

	cols, err := Columns("parquet", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "customer_name"}, cols)
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

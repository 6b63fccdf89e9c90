package probe

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
)

// headBytes is how much of a text file is read to find its columns.
const headBytes = 64 << 10

// Columns extracts column names from file content of the given connection type.
// Types without an introspector return nil.
func Columns(connectionType string, data []byte) ([]string, error) {
	switch connectionType {
	case "csv":
		return csvColumns(data)
	case "json":
		return jsonColumns(data)
	case "parquet":
		return parquetColumns(data)
	default:
		return nil, nil
	}
}

func wholeFile(connectionType string) bool {
	return connectionType == "parquet"
}

func csvColumns(data []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return header, nil
}

// jsonColumns reads the keys of the first object. Arrays of objects and JSON
// lines are both accepted; only the first value is decoded.
func jsonColumns(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}

	var first map[string]json.RawMessage
	switch tok {
	case json.Delim('['):
		if !dec.More() {
			return nil, errors.New("json array is empty")
		}
		if err := dec.Decode(&first); err != nil {
			return nil, fmt.Errorf("decode first json record: %w", err)
		}
	case json.Delim('{'):
		dec = json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&first); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode json record: %w", err)
		}
	default:
		return nil, fmt.Errorf("json content does not start with an object or array")
	}

	keys := make([]string, 0, len(first))
	for k := range first {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func parquetColumns(data []byte) ([]string, error) {
	f, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, fmt.Errorf("open parquet buffer: %w", err)
	}
	pr, err := reader.NewParquetReader(f, nil, 1)
	if err != nil {
		return nil, fmt.Errorf("read parquet footer: %w", err)
	}
	defer pr.ReadStop()

	var cols []string
	for i, el := range pr.SchemaHandler.SchemaElements {
		if i == 0 || el.GetNumChildren() > 0 {
			continue
		}
		cols = append(cols, pr.SchemaHandler.GetExName(i))
	}
	return cols, nil
}

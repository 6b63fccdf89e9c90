package models

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind groups connection types by how the validation engine reaches them.
type SourceKind string

const (
	KindDatabase SourceKind = "database"
	KindFile     SourceKind = "file"
	KindOther    SourceKind = "other"
)

var connectionKinds = map[string]SourceKind{
	"mysql":      KindDatabase,
	"postgres":   KindDatabase,
	"redshift":   KindDatabase,
	"snowflake":  KindDatabase,
	"bigquery":   KindDatabase,
	"athena":     KindDatabase,
	"trino":      KindDatabase,
	"clickhouse": KindDatabase,
	"sqlserver":  KindDatabase,

	"csv":        KindFile,
	"json":       KindFile,
	"fileserver": KindFile,
	"parquet":    KindFile,
	"orc":        KindFile,
	"avro":       KindFile,
	"xlsx":       KindFile,

	"sap":       KindOther,
	"streaming": KindOther,
}

// KindOf returns the source kind for a connection type token.
func KindOf(connectionType string) (SourceKind, bool) {
	kind, ok := connectionKinds[strings.ToLower(strings.TrimSpace(connectionType))]
	return kind, ok
}

type Connection struct {
	Name             string     `json:"connection_name"`
	ConnectionType   string     `json:"connection_type"`
	Hostname         string     `json:"hostname"`
	Port             int        `json:"port"`
	Username         string     `json:"username"`
	Password         string     `json:"password,omitempty"` // plaintext in memory, encrypted at rest
	Database         string     `json:"database,omitempty"`
	FileName         string     `json:"file_name,omitempty"`
	DirPath          string     `json:"dir_path,omitempty"`
	ConnectionString string     `json:"connection_string,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
}

func (c *Connection) Kind() SourceKind {
	kind, ok := KindOf(c.ConnectionType)
	if !ok {
		return KindOther
	}
	return kind
}

// Target is the database name for database-kind connections and the file name otherwise.
func (c *Connection) Target() string {
	if c.Kind() == KindDatabase {
		return c.Database
	}
	return c.FileName
}

// Validate checks the fields required for the connection's kind and that exactly
// one of database or file_name/dir_path is populated.
func (c *Connection) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ConnectionType) == "" {
		missing = append(missing, "connection_type")
	}
	if strings.TrimSpace(c.Hostname) == "" {
		missing = append(missing, "hostname")
	}
	if c.Port <= 0 || c.Port > 65535 {
		missing = append(missing, "port")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}

	switch c.Kind() {
	case KindDatabase:
		if c.Database == "" {
			missing = append(missing, "database")
		}
		if c.FileName != "" || c.DirPath != "" {
			return fmt.Errorf("database connection must not set file_name or dir_path")
		}
	case KindFile:
		if c.FileName == "" {
			missing = append(missing, "file_name")
		}
		if c.DirPath == "" {
			missing = append(missing, "dir_path")
		}
		if c.Database != "" {
			return fmt.Errorf("file connection must not set database")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// GenerateConnString renders a display connection string. The password is never included.
func (c *Connection) GenerateConnString() string {
	target := c.Target()
	if c.Kind() == KindFile {
		target = strings.TrimSuffix(c.DirPath, "/") + "/" + c.FileName
		target = strings.TrimPrefix(target, "/")
	}
	return fmt.Sprintf("%s://%s@%s:%d/%s",
		strings.ToLower(c.ConnectionType), c.Username, c.Hostname, c.Port, target)
}

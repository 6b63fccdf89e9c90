package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

// FileStore reaches files on the remote host of a file connection.
type FileStore interface {
	// Locate fails with ErrNotFound when the file is not in its directory.
	Locate(ctx context.Context, conn *models.Connection) error
	// Read returns up to limit bytes of the file, or all of it when limit <= 0.
	Read(ctx context.Context, conn *models.Connection, limit int64) ([]byte, error)
}

type SSHConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	// MaxFileBytes caps whole-file reads.
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`
}

// SSHFiles runs find, head and cat on the remote host over a password session.
type SSHFiles struct {
	cfg      SSHConfig
	hostKeys ssh.HostKeyCallback
}

func NewSSHFiles(cfg SSHConfig) (*SSHFiles, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 64 << 20
	}
	callback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", cfg.KnownHostsFile, err)
		}
		callback = cb
	}
	return &SSHFiles{cfg: cfg, hostKeys: callback}, nil
}

// VerifiesHostKeys reports whether remote host keys are checked against a
// known_hosts file. Without one any host key is accepted.
func (s *SSHFiles) VerifiesHostKeys() bool {
	return s.cfg.KnownHostsFile != ""
}

func (s *SSHFiles) Locate(ctx context.Context, conn *models.Connection) error {
	cmd := fmt.Sprintf("find %s -maxdepth 1 -name %s -type f", shellQuote(conn.DirPath), shellQuote(conn.FileName))
	out, err := s.run(ctx, conn, cmd)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(out)) == "" {
		return fmt.Errorf("file %s in %s on %s: %w", conn.FileName, conn.DirPath, conn.Hostname, apperrors.ErrNotFound)
	}
	return nil
}

func (s *SSHFiles) Read(ctx context.Context, conn *models.Connection, limit int64) ([]byte, error) {
	file := shellQuote(path.Join(conn.DirPath, conn.FileName))
	if limit > 0 {
		return s.run(ctx, conn, fmt.Sprintf("head -c %d %s", limit, file))
	}

	out, err := s.run(ctx, conn, "stat -c %s "+file)
	if err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("stat %s: unexpected output %q", conn.FileName, out)
	}
	if size > s.cfg.MaxFileBytes {
		return nil, fmt.Errorf("file %s is %d bytes, above the %d byte limit: %w", conn.FileName, size, s.cfg.MaxFileBytes, apperrors.ErrInvalidInput)
	}
	return s.run(ctx, conn, "cat "+file)
}

func (s *SSHFiles) run(ctx context.Context, conn *models.Connection, cmd string) ([]byte, error) {
	addr := net.JoinHostPort(conn.Hostname, strconv.Itoa(conn.Port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            conn.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(conn.Password)},
		HostKeyCallback: s.hostKeys,
		Timeout:         s.cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %v: %w", addr, err, apperrors.ErrConnection)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session %s: %v: %w", addr, err, apperrors.ErrConnection)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(cmd)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(r.err, &exitErr) && exitErr.ExitStatus() == 1 && strings.HasPrefix(cmd, "find ") {
				// find exits 1 when the directory itself is missing.
				return nil, fmt.Errorf("directory %s on %s: %w", conn.DirPath, conn.Hostname, apperrors.ErrNotFound)
			}
			return nil, fmt.Errorf("ssh %s: %v: %w", addr, r.err, apperrors.ErrConnection)
		}
		return r.out, nil
	}
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

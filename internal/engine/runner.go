package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Output returns stderr when present, stdout otherwise, trimmed.
func (r *ExecResult) Output() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

type execOptions struct {
	Env     []string
	WorkDir string
	Timeout time.Duration
}

type ExecOpt func(*execOptions)

// Runner executes commands inside a running container.
//
// When ctx ends before an Exec finishes, Exec returns ctx.Err() but the process
// keeps running inside the container. Callers stop it themselves, see
// Client.Cleanup.
type Runner interface {
	Exec(ctx context.Context, containerName string, cmd []string, opts ...ExecOpt) (*ExecResult, error)
	CopyFrom(ctx context.Context, containerName, filePath string) ([]byte, error)
	CopyTo(ctx context.Context, containerName, dstDir string, content []byte, filename string) error
}

type dockerRunner struct {
	cli *client.Client
}

func NewDockerRunner(cli *client.Client) Runner {
	return &dockerRunner{cli: cli}
}

func WithEnv(env ...string) ExecOpt {
	return func(o *execOptions) { o.Env = append(o.Env, env...) }
}

func WithWorkDir(dir string) ExecOpt {
	return func(o *execOptions) { o.WorkDir = dir }
}

func WithTimeout(d time.Duration) ExecOpt {
	return func(o *execOptions) { o.Timeout = d }
}

func (d *dockerRunner) Exec(ctx context.Context, containerName string, cmd []string, opts ...ExecOpt) (*ExecResult, error) {
	o := &execOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	created, err := d.cli.ContainerExecCreate(ctx, containerName, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
		Env:          o.Env,
		WorkingDir:   o.WorkDir,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var outBuf, errBuf bytes.Buffer
	outputDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&outBuf, &errBuf, attach.Reader)
		outputDone <- copyErr
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err = <-outputDone:
		if err != nil {
			return nil, fmt.Errorf("exec stream: %w", err)
		}
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}, nil
}

// CopyFrom reads a single regular file out of the container.
func (d *dockerRunner) CopyFrom(ctx context.Context, containerName, filePath string) ([]byte, error) {
	reader, _, err := d.cli.CopyFromContainer(ctx, containerName, filePath)
	if err != nil {
		return nil, fmt.Errorf("copy from container: %w", err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%s not found in archive", filePath)
		}
		if err != nil {
			return nil, fmt.Errorf("tar read header: %w", err)
		}
		// some Docker versions prefix the entry with its directory
		if hdr.Typeflag != tar.TypeReg || path.Base(hdr.Name) != path.Base(filePath) {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, fmt.Errorf("tar read file: %w", err)
		}
		return buf.Bytes(), nil
	}
}

func (d *dockerRunner) CopyTo(ctx context.Context, containerName, dstDir string, content []byte, filename string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:     filename,
		Mode:     0600,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
		ModTime:  time.Now(),
	}); err != nil {
		return fmt.Errorf("tar write header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("tar write content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}

	if err := d.cli.CopyToContainer(ctx, containerName, dstDir, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

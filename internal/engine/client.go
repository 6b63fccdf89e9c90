package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/stanstork/stratum-dq/internal/models"
)

const (
	datasourceFile   = "datasource.yml"
	batchRequestFile = "batch_request.json"
	checkpointFile   = "checkpoint_result.json"
)

// Client drives the validation engine CLI inside its sidecar container.
// Each job gets a scratch directory under WorkDir; suites live under ContextRoot
// and are shared across jobs.
type Client struct {
	Runner        Runner
	ContainerName string
	Bin           string
	WorkDir       string
	ContextRoot   string
	StepTimeout   time.Duration
}

func (c *Client) workspace(jobID string) string {
	return path.Join(c.WorkDir, jobID)
}

func (c *Client) stepTimeout() time.Duration {
	if c.StepTimeout > 0 {
		return c.StepTimeout
	}
	return 2 * time.Minute
}

// run executes the engine binary with args and fails on a non-zero exit code.
func (c *Client) run(ctx context.Context, op string, timeout time.Duration, args ...string) (*ExecResult, error) {
	cmd := append([]string{c.Bin}, args...)
	cmd = append(cmd, "--context-root", c.ContextRoot)

	var opts []ExecOpt
	if timeout > 0 {
		opts = append(opts, WithTimeout(timeout))
	}
	res, err := c.Runner.Exec(ctx, c.ContainerName, cmd, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("%s failed (%d): %s", op, res.ExitCode, res.Output())
	}
	return res, nil
}

func (c *Client) upload(ctx context.Context, jobID, filename string, content []byte) (string, error) {
	dir := c.workspace(jobID)
	if _, err := c.Runner.Exec(ctx, c.ContainerName, []string{"mkdir", "-p", dir}, WithTimeout(10*time.Second)); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if err := c.Runner.CopyTo(ctx, c.ContainerName, dir, content, filename); err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	return path.Join(dir, filename), nil
}

// TestDatasource registers the datasource and asks the engine to dry-run it.
func (c *Client) TestDatasource(ctx context.Context, jobID string, cfg DatasourceConfig) error {
	doc, err := cfg.YAML()
	if err != nil {
		return err
	}
	cfgPath, err := c.upload(ctx, jobID, datasourceFile, doc)
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "datasource test", c.stepTimeout(), "datasource", "test", "--config", cfgPath)
	return err
}

// EnsureSuite creates the suite or loads it when it already exists.
func (c *Client) EnsureSuite(ctx context.Context, suiteName string) (SuiteInfo, error) {
	res, err := c.run(ctx, "suite ensure", c.stepTimeout(), "suite", "ensure", "--name", suiteName)
	if err != nil {
		return SuiteInfo{}, err
	}
	var info SuiteInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return SuiteInfo{}, fmt.Errorf("decode suite ensure output: %w", err)
	}
	if info.Name == "" {
		info.Name = suiteName
	}
	return info, nil
}

// CreateValidator binds a batch request to a suite and returns the validator id.
func (c *Client) CreateValidator(ctx context.Context, jobID string, req BatchRequest, suiteName string) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode batch request: %w", err)
	}
	reqPath, err := c.upload(ctx, jobID, batchRequestFile, body)
	if err != nil {
		return "", err
	}
	res, err := c.run(ctx, "validator create", c.stepTimeout(),
		"validator", "create", "--suite", suiteName, "--batch-request", reqPath)
	if err != nil {
		return "", err
	}
	var out struct {
		ValidatorID string `json:"validator_id"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return "", fmt.Errorf("decode validator create output: %w", err)
	}
	if out.ValidatorID == "" {
		return "", fmt.Errorf("validator create returned no validator id")
	}
	return out.ValidatorID, nil
}

// AddExpectation applies one check to the validator.
func (c *Client) AddExpectation(ctx context.Context, validatorID string, check models.Check) error {
	kwargs := check.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	body, err := json.Marshal(kwargs)
	if err != nil {
		return fmt.Errorf("encode kwargs for %s: %w", check.ExpectationType, err)
	}
	_, err = c.run(ctx, check.ExpectationType, c.stepTimeout(),
		"validator", "expect", "--validator", validatorID,
		"--type", check.ExpectationType, "--kwargs", string(body))
	return err
}

func (c *Client) SaveSuite(ctx context.Context, validatorID string) error {
	_, err := c.run(ctx, "validator save", c.stepTimeout(), "validator", "save", "--validator", validatorID)
	return err
}

// RunCheckpoint executes the checkpoint and returns the raw result document.
// It is bounded only by ctx.
func (c *Client) RunCheckpoint(ctx context.Context, jobID string, req CheckpointRequest) ([]byte, error) {
	body, err := json.Marshal(req.BatchRequest)
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}
	reqPath, err := c.upload(ctx, jobID, batchRequestFile, body)
	if err != nil {
		return nil, err
	}
	outPath := path.Join(c.workspace(jobID), checkpointFile)
	if _, err := c.run(ctx, "checkpoint run", 0,
		"checkpoint", "run",
		"--name", req.Name,
		"--suite", req.SuiteName,
		"--batch-request", reqPath,
		"--output", outPath,
	); err != nil {
		return nil, err
	}
	return c.Runner.CopyFrom(ctx, c.ContainerName, outPath)
}

// Cleanup stops engine processes still working in the job's scratch directory,
// such as a checkpoint whose caller timed out, then removes the directory. pkill
// exits 1 when nothing matched, so its result is ignored.
func (c *Client) Cleanup(ctx context.Context, jobID string) error {
	dir := c.workspace(jobID)
	_, _ = c.Runner.Exec(ctx, c.ContainerName, []string{"pkill", "-KILL", "-f", "--", dir + "/"}, WithTimeout(10*time.Second))
	_, err := c.Runner.Exec(ctx, c.ContainerName, []string{"rm", "-rf", dir}, WithTimeout(10*time.Second))
	return err
}

// Package pipeline drives one validation job through the engine, stage by stage,
// reporting every step to the job's status sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/checks"
	"github.com/stanstork/stratum-dq/internal/datasource"
	"github.com/stanstork/stratum-dq/internal/engine"
	"github.com/stanstork/stratum-dq/internal/models"
	"github.com/stanstork/stratum-dq/internal/results"
)

// StatusSink records status transitions for a job.
type StatusSink interface {
	Transition(ctx context.Context, jobID string, status models.JobStatus, message string) error
}

// JobContext identifies the job a Run call reports to. It is passed explicitly so
// concurrent runs never share a notion of the current job.
type JobContext struct {
	JobID  string
	Status StatusSink
}

type CredentialResolver interface {
	ResolveCredentials(ctx context.Context, name string) (*models.Connection, error)
}

// ValidationEngine is the subset of engine.Client the pipeline drives.
type ValidationEngine interface {
	TestDatasource(ctx context.Context, jobID string, cfg engine.DatasourceConfig) error
	EnsureSuite(ctx context.Context, suiteName string) (engine.SuiteInfo, error)
	CreateValidator(ctx context.Context, jobID string, req engine.BatchRequest, suiteName string) (string, error)
	AddExpectation(ctx context.Context, validatorID string, check models.Check) error
	SaveSuite(ctx context.Context, validatorID string) error
	RunCheckpoint(ctx context.Context, jobID string, req engine.CheckpointRequest) ([]byte, error)
	Cleanup(ctx context.Context, jobID string) error
}

type ResultPersister interface {
	Persist(ctx context.Context, jobID string, vr *results.ValidationResult) (models.ValidationBatch, int, error)
}

type Config struct {
	CheckpointTimeout time.Duration
	// BatchLimit applies when the job's data source sets no limit. Zero means unlimited.
	BatchLimit int
}

var errCheckpointTimeout = errors.New("checkpoint timed out")

type Pipeline struct {
	creds    CredentialResolver
	resolver *datasource.Resolver
	engine   ValidationEngine
	checks   *checks.Registry
	store    ResultPersister
	cfg      Config
	logger   zerolog.Logger
}

func New(
	creds CredentialResolver,
	resolver *datasource.Resolver,
	eng ValidationEngine,
	registry *checks.Registry,
	store ResultPersister,
	cfg Config,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		creds:    creds,
		resolver: resolver,
		engine:   eng,
		checks:   registry,
		store:    store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes every stage for job. On failure the job is moved to ERROR before
// the error is returned, so a run never leaves its job INPROGRESS.
func (p *Pipeline) Run(ctx context.Context, jc JobContext, job models.Job) (err error) {
	logger := p.logger.With().Str("job_id", jc.JobID).Str("connection", job.ConnectionName).Logger()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err == nil {
			logger.Info().Dur("elapsed", time.Since(started)).Msg("Validation job completed")
			return
		}
		msg := failureMessage(err)
		terr := jc.Status.Transition(context.WithoutCancel(ctx), jc.JobID, models.StatusError, msg)
		if terr != nil && !errors.Is(terr, apperrors.ErrTerminalState) {
			logger.Error().Err(terr).Msg("Failed to record job failure")
		}
		logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("Validation job failed")
	}()

	// Stage 0: checks are validated before any engine work.
	if err := p.progress(ctx, jc, "Validating quality checks"); err != nil {
		return err
	}
	if err := p.checks.ValidateAll(job.QualityChecks); err != nil {
		return err
	}

	// Stage 1
	if err := p.progress(ctx, jc, "Resolving connection credentials"); err != nil {
		return err
	}
	conn, err := p.creds.ResolveCredentials(ctx, job.ConnectionName)
	if err != nil {
		return err
	}

	// Stage 2
	if err := p.progress(ctx, jc, "Building datasource configuration"); err != nil {
		return err
	}
	src, err := p.resolver.Resolve(conn, job.DataSource)
	if err != nil {
		return err
	}
	defer p.cleanup(ctx, jc.JobID, logger)
	if err := p.engine.TestDatasource(ctx, jc.JobID, src.Config()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("datasource %s rejected: %v: %w", src.DatasourceName(), err, apperrors.ErrConfiguration)
	}
	logger.Debug().Str("datasource", src.DatasourceName()).Str("target", src.Target()).Msg("Datasource configuration accepted")

	// Stage 3
	if err := p.progress(ctx, jc, "Preparing expectation suite"); err != nil {
		return err
	}
	suite, err := p.engine.EnsureSuite(ctx, src.SuiteName())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("suite %s: %v: %w", src.SuiteName(), err, apperrors.ErrValidator)
	}
	if suite.Created {
		logger.Debug().Str("suite", suite.Name).Msg("Expectation suite created")
	} else {
		logger.Info().Str("suite", suite.Name).Int("expectations", suite.ExpectationCount).Msg("Expectation suite loaded")
	}

	// Stage 4
	if err := p.progress(ctx, jc, "Building batch request"); err != nil {
		return err
	}
	limit := job.DataSource.Limit
	if limit <= 0 {
		limit = p.cfg.BatchLimit
	}
	req := src.BatchRequest(limit)

	// Stage 5
	if err := p.progress(ctx, jc, "Binding validator"); err != nil {
		return err
	}
	validatorID, err := p.engine.CreateValidator(ctx, jc.JobID, req, suite.Name)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("validator for %s: %v: %w", req.DataAssetName, err, apperrors.ErrValidator)
	}

	// Stage 6
	if err := p.progress(ctx, jc, fmt.Sprintf("Attaching %d quality checks", len(job.QualityChecks))); err != nil {
		return err
	}
	for i, check := range job.QualityChecks {
		if err := p.engine.AddExpectation(ctx, validatorID, check); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("check %d (%s): %v: %w", i, check.ExpectationType, err, apperrors.ErrValidator)
		}
	}
	if err := p.engine.SaveSuite(ctx, validatorID); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("save suite %s: %v: %w", suite.Name, err, apperrors.ErrValidator)
	}

	// Stage 7
	if err := p.progress(ctx, jc, "Running checkpoint"); err != nil {
		return err
	}
	doc, err := p.runCheckpoint(ctx, jc.JobID, engine.CheckpointRequest{
		Name:         "checkpoint_" + jc.JobID,
		SuiteName:    suite.Name,
		BatchRequest: req,
	})
	if err != nil {
		return err
	}
	vr, err := results.Extract(doc)
	if err != nil {
		return err
	}
	attached := len(job.QualityChecks)
	if len(vr.Results) < attached || (suite.Created && len(vr.Results) != attached) {
		return fmt.Errorf("checkpoint returned %d results for %d checks: %w", len(vr.Results), attached, apperrors.ErrResultExtraction)
	}
	if len(vr.Results) > attached {
		// A loaded suite still carries expectations saved by earlier runs.
		total := len(vr.Results)
		if vr, err = vr.Select(job.QualityChecks); err != nil {
			return err
		}
		logger.Info().Int("reported", total).Int("kept", len(vr.Results)).Msg("Dropped results of expectations not attached by this job")
	}

	// Stage 8
	if err := p.progress(ctx, jc, "Persisting validation results"); err != nil {
		return err
	}
	batch, _, err := p.store.Persist(ctx, jc.JobID, vr)
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("Validation completed with data quality score %.2f", batch.DataQualityScore)
	if err := jc.Status.Transition(ctx, jc.JobID, models.StatusCompleted, msg); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

func (p *Pipeline) runCheckpoint(ctx context.Context, jobID string, req engine.CheckpointRequest) ([]byte, error) {
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.CheckpointTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, p.cfg.CheckpointTimeout)
	}
	defer cancel()

	doc, err := p.engine.RunCheckpoint(cctx, jobID, req)
	if err == nil {
		return doc, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return nil, errCheckpointTimeout
	}
	return nil, fmt.Errorf("checkpoint run: %v: %w", err, apperrors.ErrValidator)
}

// progress records an INPROGRESS step. Store failures are logged and ignored; a
// job that is already terminal or gone stops the run.
func (p *Pipeline) progress(ctx context.Context, jc JobContext, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := jc.Status.Transition(ctx, jc.JobID, models.StatusInProgress, message)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrTerminalState), errors.Is(err, apperrors.ErrNotFound):
		return err
	default:
		p.logger.Warn().Err(err).Str("job_id", jc.JobID).Str("step", message).Msg("Failed to record job progress")
		return nil
	}
}

func (p *Pipeline) cleanup(ctx context.Context, jobID string, logger zerolog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.engine.Cleanup(cctx, jobID); err != nil {
		logger.Warn().Err(err).Msg("Failed to clean up engine workspace")
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, errCheckpointTimeout):
		return errCheckpointTimeout.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return err.Error()
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/archive"
	"github.com/stanstork/stratum-dq/internal/checks"
	"github.com/stanstork/stratum-dq/internal/config"
	"github.com/stanstork/stratum-dq/internal/datasource"
	"github.com/stanstork/stratum-dq/internal/engine"
	"github.com/stanstork/stratum-dq/internal/handlers"
	"github.com/stanstork/stratum-dq/internal/jobstate"
	"github.com/stanstork/stratum-dq/internal/middleware"
	"github.com/stanstork/stratum-dq/internal/migration"
	"github.com/stanstork/stratum-dq/internal/notification"
	"github.com/stanstork/stratum-dq/internal/pipeline"
	"github.com/stanstork/stratum-dq/internal/probe"
	"github.com/stanstork/stratum-dq/internal/registry"
	"github.com/stanstork/stratum-dq/internal/repository"
	"github.com/stanstork/stratum-dq/internal/results"
	"github.com/stanstork/stratum-dq/internal/routes"
	"github.com/stanstork/stratum-dq/internal/temporal"
	"github.com/stanstork/stratum-dq/internal/temporal/activities"
	"github.com/stanstork/stratum-dq/internal/temporal/workflows"
	"github.com/stanstork/stratum-dq/internal/utils"
	"github.com/stanstork/stratum-dq/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	tc "go.temporal.io/sdk/client"
	sdkworker "go.temporal.io/sdk/worker"
)

type application struct {
	config   *config.Config
	db       *sql.DB
	logger   zerolog.Logger
	registry *registry.Registry
	tracker  *jobstate.Tracker
	results  *results.Store
	pipeline *pipeline.Pipeline
	notifier *notification.JobObserver

	temporalClient tc.Client
}

// background is whatever runs dispatched jobs: the poll worker or a Temporal worker.
type background interface {
	Stop()
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	goose.SetLogger(migration.NewGooseAdapter(logger))

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	if err := migration.RunMigrations(db, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	app := &application{config: cfg, db: db, logger: logger}
	app.initServices()

	dispatcher, bg := app.startDispatch()
	if app.temporalClient != nil {
		defer app.temporalClient.Close()
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(dispatcher)
	loggedRouter := middleware.Logging(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, bg)

	logger.Info().Msg("Application terminated.")
}

// initServices builds the registry, job tracker, result store and pipeline.
func (app *application) initServices() {
	cfg := app.config
	logger := app.logger

	cipher, err := utils.NewCredentialCipher(cfg.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid encryption key")
	}
	app.registry = registry.New(repository.NewConnectionRepository(app.db), cipher, logger)

	jobRepo := repository.NewJobRepository(app.db)
	app.tracker = jobstate.NewTracker(jobRepo, logger,
		jobstate.NewLogObserver(logger),
		jobstate.NewHistoryObserver(jobRepo, logger),
	)
	if cfg.Notifications.SMTPHost != "" {
		email, err := notification.NewEmailNotifier(cfg.Notifications.EmailConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to configure email notifications")
		}
		app.notifier = notification.NewJobObserver(logger, cfg.Notifications.NotifyStatuses(), email)
		app.tracker.Subscribe(app.notifier)
	}

	var archiver results.Archiver
	if cfg.Archive.Enabled {
		store, err := app.objectStore()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to configure checkpoint archive")
		}
		archiver = archive.NewArchiver(store, logger)
	}
	app.results = results.NewStore(repository.NewResultRepository(app.db), archiver, logger)

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Docker client")
	}
	engineClient := &engine.Client{
		Runner:        engine.NewDockerRunner(dockerClient),
		ContainerName: cfg.Engine.Container,
		Bin:           cfg.Engine.Bin,
		WorkDir:       cfg.Engine.WorkDir,
		ContextRoot:   cfg.Engine.ContextRoot,
		StepTimeout:   cfg.Engine.StepTimeout,
	}

	app.pipeline = pipeline.New(
		app.registry,
		datasource.NewResolver(),
		engineClient,
		checks.Default(),
		app.results,
		pipeline.Config{CheckpointTimeout: cfg.Engine.CheckpointTimeout, BatchLimit: cfg.Engine.BatchLimit},
		logger,
	)
}

func (app *application) objectStore() (archive.ObjectStore, error) {
	if app.config.Archive.LocalDir != "" {
		return &archive.LocalStore{Root: app.config.Archive.LocalDir}, nil
	}
	return archive.NewS3Store(app.config.Archive.Config)
}

// startDispatch starts the configured job runner and returns the dispatcher the
// submit handler hands jobs to.
func (app *application) startDispatch() (handlers.Dispatcher, background) {
	if app.config.DispatchMode == config.DispatchTemporal {
		return app.startTemporalWorker()
	}

	w := worker.NewWorker(worker.WorkerConfig{
		Jobs:         repository.NewJobRepository(app.db),
		Pipeline:     app.pipeline,
		Status:       app.tracker,
		PollInterval: app.config.Worker.PollInterval,
		Concurrency:  app.config.Worker.Concurrency,
	}, app.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error().Err(err).Msg("Worker exited")
		}
	}()
	return w, stopFunc(func() {
		cancel()
		<-done
	})
}

type stopFunc func()

func (f stopFunc) Stop() { f() }

func (app *application) startTemporalWorker() (handlers.Dispatcher, background) {
	tcfg := app.config.Temporal

	// Initialize Temporal client.
	temporalClient, err := tc.Dial(tc.Options{
		HostPort:  tcfg.HostPort,
		Namespace: tcfg.Namespace,
		Logger:    temporal.NewTemporalAdapter(app.logger),
	})
	if err != nil {
		app.logger.Fatal().Err(err).Msg("Unable to create Temporal client")
	}
	app.temporalClient = temporalClient

	activityImpl := &activities.Activities{
		Jobs:     app.tracker,
		Status:   app.tracker,
		Pipeline: app.pipeline,
	}

	w := sdkworker.New(temporalClient, tcfg.TaskQueue, sdkworker.Options{})
	w.RegisterWorkflow(workflows.ValidationWorkflow)
	w.RegisterActivity(activityImpl)

	app.logger.Info().Str("task_queue", tcfg.TaskQueue).Msg("Starting Temporal worker...")
	if err := w.Start(); err != nil {
		app.logger.Fatal().Err(err).Msg("Unable to start worker")
	}

	return workflows.NewDispatcher(temporalClient, tcfg.TaskQueue, tcfg.ActivityTimeout), w
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(dispatcher handlers.Dispatcher) http.Handler {
	cfg := app.config

	sshFiles, err := probe.NewSSHFiles(cfg.SSH.SSHConfig)
	if err != nil {
		app.logger.Fatal().Err(err).Msg("Failed to configure SSH file access")
	}
	if !sshFiles.VerifiesHostKeys() {
		app.logger.Warn().Msg("ssh.known_hosts_file is not set; SSH host keys of file connections are not verified")
	}
	verifier := probe.NewVerifier(sshFiles, cfg.SSH.IntrospectColumns, cfg.SSH.Timeout, app.logger)

	connHandler := handlers.NewConnectionHandler(app.registry, verifier, app.logger)
	jobHandler := handlers.NewJobHandler(app.tracker, checks.Default(), dispatcher, app.results, app.logger)

	return routes.NewRouter(connHandler, jobHandler, routes.Options{
		JWTSecret:       cfg.Auth.JWTSecret,
		SubmitPerSecond: cfg.RateLimit.SubmitPerSecond,
		SubmitBurst:     cfg.RateLimit.Burst,
		Ready:           app.db,
	})
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, bg background) {
	logger := app.logger
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Running jobs see their context cancelled and record ERROR before returning.
	logger.Info().Msg("Stopping job runner...")
	bg.Stop()
	if app.notifier != nil {
		app.notifier.Wait()
	}
	logger.Info().Msg("Job runner stopped.")
}

package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stanstork/stratum-dq/internal/authz"
	"github.com/stanstork/stratum-dq/internal/handlers"
	"github.com/stanstork/stratum-dq/internal/middleware"
)

type Options struct {
	JWTSecret string
	// SubmitPerSecond and SubmitBurst throttle /submit-job. Zero disables the limit.
	SubmitPerSecond float64
	SubmitBurst     int
	Ready           handlers.Pinger
}

// NewRouter sets up the API routes
func NewRouter(conn *handlers.ConnectionHandler, jobs *handlers.JobHandler, opts Options) *mux.Router {
	router := mux.NewRouter()

	// Health check routes
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	if opts.Ready != nil {
		router.Handle("/ready", handlers.ReadinessCheck(opts.Ready)).Methods(http.MethodGet)
	}

	authEnabled := opts.JWTSecret != ""
	api := router.NewRoute().Subrouter()
	api.Use(authz.Bearer(opts.JWTSecret))

	write := authz.RequireScope("dq:write", authEnabled)
	read := authz.RequireScope("dq:read", authEnabled)
	throttle := middleware.RateLimit(opts.SubmitPerSecond, opts.SubmitBurst)

	api.Handle("/create-connection", write(http.HandlerFunc(conn.CreateConnection))).Methods(http.MethodPost)
	api.Handle("/submit-job", throttle(write(http.HandlerFunc(jobs.SubmitJob)))).Methods(http.MethodPost)
	api.Handle("/submit-job-status", read(http.HandlerFunc(jobs.SubmitJobStatus))).Methods(http.MethodGet)
	api.Handle("/job-results", read(http.HandlerFunc(jobs.JobResults))).Methods(http.MethodGet)
	api.Handle("/job-events", read(http.HandlerFunc(jobs.JobEvents))).Methods(http.MethodGet)
	api.Handle("/stalled-jobs", read(http.HandlerFunc(jobs.StalledJobs))).Methods(http.MethodGet)

	return router
}

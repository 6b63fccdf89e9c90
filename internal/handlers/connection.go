package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/stanstork/stratum-dq/internal/apperrors"
	"github.com/stanstork/stratum-dq/internal/models"
)

// ConnectionRegistry names and stores verified connections.
type ConnectionRegistry interface {
	GenerateUniqueName(conn *models.Connection) string
	Insert(ctx context.Context, conn *models.Connection, name string) error
}

// SourceVerifier checks that a connection points at something reachable.
type SourceVerifier interface {
	Verify(ctx context.Context, conn *models.Connection) ([]string, error)
}

type ConnectionHandler struct {
	registry ConnectionRegistry
	verifier SourceVerifier
	logger   zerolog.Logger
}

type createConnectionResponse struct {
	Status         string   `json:"status"`
	ConnectionName string   `json:"connection_name"`
	Columns        []string `json:"columns,omitempty"`
}

func NewConnectionHandler(registry ConnectionRegistry, verifier SourceVerifier, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		registry: registry,
		verifier: verifier,
		logger:   logger.With().Str("component", "connection-handler").Logger(),
	}
}

// CreateConnection validates, verifies and stores a connection, returning its generated name.
func (h *ConnectionHandler) CreateConnection(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(h.logger, r)

	var conn models.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		writeError(w, fmt.Errorf("invalid request payload: %v: %w", err, apperrors.ErrInvalidInput))
		return
	}
	if err := conn.Validate(); err != nil {
		writeError(w, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidInput))
		return
	}

	columns, err := h.verifier.Verify(r.Context(), &conn)
	if err != nil {
		logger.Warn().Err(err).Str("connection_type", conn.ConnectionType).Str("hostname", conn.Hostname).Msg("Connection verification failed")
		writeError(w, err)
		return
	}

	name := h.registry.GenerateUniqueName(&conn)
	if err := h.registry.Insert(r.Context(), &conn, name); err != nil {
		logger.Error().Err(err).Str("connection_name", name).Msg("Failed to store connection")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createConnectionResponse{
		Status:         "connected",
		ConnectionName: name,
		Columns:        columns,
	})
}

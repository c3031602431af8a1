package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/koios/countdown-renderer/pkg/models"
	"go.uber.org/zap"
)

// ConfigUpdateType is the type tag of remote session config updates
const ConfigUpdateType = "config_update"

// SessionUpdater applies a patch to a session
type SessionUpdater interface {
	Upsert(id string, patch models.Patch) models.TimerConfig
}

// EventHandler applies config updates received from the message stream
type EventHandler struct {
	store  SessionUpdater
	logger *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(store SessionUpdater, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		store:  store,
		logger: logger,
	}
}

// Handle validates an update and upserts the session. Invalid fields are
// dropped as on the HTTP endpoint; an update with nothing valid is rejected.
func (h *EventHandler) Handle(ctx context.Context, update *models.ConfigUpdate) (models.TimerConfig, error) {
	h.logger.Info("Processing config update",
		zap.String("session_id", update.SessionID),
		zap.String("type", update.Type))

	if update.Type != ConfigUpdateType {
		return models.TimerConfig{}, fmt.Errorf("invalid update type: %s", update.Type)
	}

	values := paramsToValues(update.Params)

	rawID := update.SessionID
	if rawID == "" {
		rawID = values.Get(ParamSessionID)
	}
	if rawID == "" {
		rawID = models.DefaultSessionID
	}
	sessionID, idErr := ParseSessionID(rawID)
	if idErr != nil {
		return models.TimerConfig{}, idErr
	}

	patch, errs := ParsePatch(values)
	for _, e := range errs {
		h.logger.Debug("Dropping invalid config field",
			zap.String("session_id", sessionID),
			zap.String("field", e.Field),
			zap.String("value", e.Value),
			zap.String("reason", e.Message))
	}

	if patch.IsEmpty() {
		if len(errs) > 0 {
			return models.TimerConfig{}, fmt.Errorf("no valid config parameters: %w", joinValidationErrors(errs))
		}
		return models.TimerConfig{}, errors.New("config update carries no parameters")
	}

	cfg := h.store.Upsert(sessionID, patch)

	h.logger.Info("Session updated from stream",
		zap.String("session_id", sessionID),
		zap.Int("dropped_fields", len(errs)))

	return cfg, nil
}

func joinValidationErrors(errs []ConfigValidationError) error {
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

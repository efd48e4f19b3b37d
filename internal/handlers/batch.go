package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ras-rm/auth-service/internal/services"
	"github.com/ras-rm/auth-service/types"
)

const titleBatch = "Auth batch process error"

// BatchHandler exposes the retention sweeps to the scheduler. A sweep is
// never cut short by the caller disconnecting.
type BatchHandler struct {
	batch  *services.BatchService
	logger *zap.Logger
}

// NewBatchHandler constructs a BatchHandler.
func NewBatchHandler(batch *services.BatchService, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{batch: batch, logger: logger}
}

// BatchRouter registers batch routes on the given router.
func BatchRouter(r chi.Router, batch *services.BatchService, logger *zap.Logger) {
	handler := NewBatchHandler(batch, logger)

	for _, stage := range types.Stages {
		r.Get("/users/eligible-for-"+stage.String()+"-notification", handler.Eligible(stage))
		r.Post("/users/"+stage.String()+"-notification", handler.Notify(stage))
	}
	r.Delete("/users/mark-for-deletion", handler.MarkForDeletion)
	r.Delete("/users", handler.HardDelete)
}

func sweepContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// Eligible lists the usernames due for the stage notification.
func (h *BatchHandler) Eligible(stage types.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := h.batch.EligibleForNotification(r.Context(), stage)
		if err != nil {
			h.logger.Error("unable to query eligible accounts", zap.String("stage", stage.String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, titleBatch, "Unable to query accounts eligible for notification")
			return
		}
		usernames := make([]string, 0, len(accounts))
		for _, acc := range accounts {
			usernames = append(usernames, acc.Username)
		}
		writeJSON(w, http.StatusOK, usernames)
	}
}

// Notify runs the stage notification sweep and returns its report.
func (h *BatchHandler) Notify(stage types.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := h.batch.RunNotificationStage(sweepContext(r), stage)
		if err != nil {
			writeError(w, http.StatusInternalServerError, titleBatch, "Unable to perform "+stage.String()+" notification operation")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// MarkForDeletion soft-deletes every account whose deletion is due.
func (h *BatchHandler) MarkForDeletion(w http.ResponseWriter, r *http.Request) {
	if _, err := h.batch.RunMarkForDeletionSweep(sweepContext(r)); err != nil {
		writeError(w, http.StatusInternalServerError, "Scheduler operation for mark for delete users error",
			"Unable to perform mark for deletion operation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HardDelete removes accounts marked for deletion once the party service
// has confirmed each respondent removal.
func (h *BatchHandler) HardDelete(w http.ResponseWriter, r *http.Request) {
	_, err := h.batch.RunHardDeleteSweep(sweepContext(r))
	if err != nil && !errors.Is(err, services.ErrNoAccountsPending) {
		writeError(w, http.StatusInternalServerError, "Scheduler operation for delete users error",
			"Unable to perform delete operation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

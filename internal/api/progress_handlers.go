package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/oplog"
)

const (
	defaultOperationLimit = 50
	maxOperationLimit     = 500
	operationsTimeout     = 3 * time.Second
)

// OperationsHandler exposes the upload operation log read-only.
type OperationsHandler struct {
	log     oplog.Log
	timeout time.Duration
	logger  *zap.Logger
}

// NewOperationsHandler wires the log and logger.
func NewOperationsHandler(log oplog.Log, logger *zap.Logger) *OperationsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationsHandler{
		log:     log,
		timeout: operationsTimeout,
		logger:  logger,
	}
}

// ListOperations handles GET /v1/operations?limit=. It returns
// {"operations": [...]} newest first, 400 for a bad limit, 503 when no log
// is configured, or 500 if the log fails.
func (h *OperationsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	if h.log == nil {
		writeError(w, http.StatusServiceUnavailable, "operation log unavailable")
		return
	}
	limit, err := parseLimit(r, defaultOperationLimit, maxOperationLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.log.List(ctx, limit)
	if err != nil {
		h.logger.Error("list operations failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}
	if records == nil {
		records = []oplog.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": records})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

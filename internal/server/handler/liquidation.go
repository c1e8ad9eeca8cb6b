package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/executor"
	"github.com/alanyoungcy/marginbot/internal/service"
)

// LiquidationScanner is what the liquidation endpoints need from the scanner.
type LiquidationScanner interface {
	Candidates(ctx context.Context, poolID string) ([]domain.LiquidatablePosition, error)
	Scan(ctx context.Context, poolID string) ([]domain.LiquidatablePosition, error)
	State(poolID string) service.ScanState
	Outcome(poolID string) (service.ScanState, bool)
	LastScan(poolID string) (time.Time, bool)
}

// Liquidator executes one liquidation.
type Liquidator interface {
	Execute(ctx context.Context, managerID string) (domain.TxResult, error)
}

// LiquidationHandler serves scanner results, history and execution.
type LiquidationHandler struct {
	scanner    LiquidationScanner
	liquidator Liquidator // nil outside full mode
	history    domain.LiquidationStore
	logger     *slog.Logger
}

// NewLiquidationHandler creates a LiquidationHandler. liquidator and
// history may be nil.
func NewLiquidationHandler(scanner LiquidationScanner, liquidator Liquidator, history domain.LiquidationStore, logger *slog.Logger) *LiquidationHandler {
	return &LiquidationHandler{
		scanner:    scanner,
		liquidator: liquidator,
		history:    history,
		logger:     logHandler(logger, "liquidation"),
	}
}

func (h *LiquidationHandler) respond(w http.ResponseWriter, poolID string, cs []domain.LiquidatablePosition) {
	body := map[string]any{
		"pool_id":    poolID,
		"state":      string(h.scanner.State(poolID)),
		"candidates": toCandidateDTOs(cs),
	}
	if st, ok := h.scanner.Outcome(poolID); ok {
		body["outcome"] = string(st)
	}
	if at, ok := h.scanner.LastScan(poolID); ok {
		body["scanned_at"] = at
	}
	writeJSON(w, http.StatusOK, body)
}

// ListCandidates returns the last scan result.
// GET /api/liquidations?pool_id=0x...
func (h *LiquidationHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	poolID := r.URL.Query().Get("pool_id")
	cs, err := h.scanner.Candidates(r.Context(), poolID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list candidates", err)
		return
	}
	h.respond(w, poolID, cs)
}

// RefreshCandidates rescans now.
// POST /api/liquidations/refresh?pool_id=0x...
func (h *LiquidationHandler) RefreshCandidates(w http.ResponseWriter, r *http.Request) {
	poolID := r.URL.Query().Get("pool_id")
	cs, err := h.scanner.Scan(r.Context(), poolID)
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh candidates", err)
		return
	}
	h.respond(w, poolID, cs)
}

// ExecuteLiquidation liquidates one candidate.
// POST /api/liquidations/{id}/execute
func (h *LiquidationHandler) ExecuteLiquidation(w http.ResponseWriter, r *http.Request) {
	if h.liquidator == nil {
		writeError(w, http.StatusForbidden, "liquidation is disabled in this mode")
		return
	}
	tx, err := h.liquidator.Execute(r.Context(), pathParam(r, "id"))
	if errors.Is(err, executor.ErrAlreadyAttempted) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "execute liquidation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"digest": tx.Digest})
}

type attemptDTO struct {
	ID          string    `json:"id"`
	ManagerID   string    `json:"manager_id"`
	PoolKey     string    `json:"pool_key"`
	DebtIsBase  bool      `json:"debt_is_base"`
	RepayAmount float64   `json:"repay_amount"`
	RiskRatio   string    `json:"risk_ratio"`
	Digest      string    `json:"digest,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListHistory returns recent liquidation attempts.
// GET /api/liquidations/history?limit=50
func (h *LiquidationHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"attempts": []attemptDTO{}})
		return
	}
	attempts, err := h.history.ListRecent(r.Context(), parseLimit(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list history", err)
		return
	}
	out := make([]attemptDTO, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptDTO{
			ID:          a.ID,
			ManagerID:   a.ManagerID,
			PoolKey:     a.PoolKey,
			DebtIsBase:  a.DebtIsBase,
			RepayAmount: a.RepayAmount,
			RiskRatio:   domain.FormatRatio(a.RiskRatio),
			Digest:      a.Digest,
			Status:      string(a.Status),
			Error:       a.Error,
			CreatedAt:   a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": out})
}

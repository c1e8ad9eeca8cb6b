package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/service"
)

// ActionService is what the action endpoints need from the service layer.
type ActionService interface {
	Check(ctx context.Context, req domain.ActionRequest) (service.CheckResult, error)
	Execute(ctx context.Context, req domain.ActionRequest) (service.ActionResult, error)
	Preview(ctx context.Context, req domain.ActionRequest) (service.PreviewResult, error)
	SizeOrder(ctx context.Context, req service.SizeRequest) (float64, error)
}

// ActionHandler serves guard checks, previews and action dispatch.
type ActionHandler struct {
	actions ActionService
	logger  *slog.Logger
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(actions ActionService, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{actions: actions, logger: logHandler(logger, "action")}
}

func (h *ActionHandler) decode(w http.ResponseWriter, r *http.Request) (domain.ActionRequest, bool) {
	var body actionBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.ActionRequest{}, false
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.ActionRequest{}, false
	}
	return req, true
}

// CheckAction runs the guard without dispatching.
// POST /api/actions/check
func (h *ActionHandler) CheckAction(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.actions.Check(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "check action", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decision":   toDecisionDTO(res.Decision),
		"manager_id": res.Request.ManagerID,
		"position":   toPositionDTO(res.Account.Position),
	})
}

type actionResultDTO struct {
	Kind      string      `json:"kind"`
	Decision  decisionDTO `json:"decision"`
	Digest    string      `json:"digest,omitempty"`
	ManagerID string      `json:"manager_id,omitempty"`
}

// ExecuteAction checks and dispatches an action. A guard rejection is a 422
// carrying the decision.
// POST /api/actions
func (h *ActionHandler) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.actions.Execute(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "execute action", err)
		return
	}
	status := http.StatusOK
	if !res.Decision.Allowed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, actionResultDTO{
		Kind:      string(res.Kind),
		Decision:  toDecisionDTO(res.Decision),
		Digest:    res.Digest,
		ManagerID: res.ManagerID,
	})
}

// PreviewAction projects a deposit, withdraw, borrow or repay.
// POST /api/preview
func (h *ActionHandler) PreviewAction(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.actions.Preview(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "preview action", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current":      toPreviewDTO(res.Current),
		"projected":    toPreviewDTO(res.Projected),
		"max_borrow":   res.MaxBorrow,
		"max_withdraw": res.MaxWithdraw,
	})
}

type sizeBody struct {
	Account   string  `json:"account"`
	PoolKey   string  `json:"pool_key"`
	ManagerID string  `json:"manager_id,omitempty"`
	Side      string  `json:"side"`
	Fraction  float64 `json:"fraction"`
	Price     float64 `json:"price,omitempty"`
}

// SizeOrder converts a collateral fraction into an order quantity.
// POST /api/orders/size
func (h *ActionHandler) SizeOrder(w http.ResponseWriter, r *http.Request) {
	var body sizeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Account == "" || body.PoolKey == "" {
		writeError(w, http.StatusBadRequest, "account and pool_key are required")
		return
	}
	qty, err := h.actions.SizeOrder(r.Context(), service.SizeRequest{
		Account:   body.Account,
		PoolKey:   body.PoolKey,
		ManagerID: body.ManagerID,
		Side:      domain.OrderSide(body.Side),
		Fraction:  body.Fraction,
		Price:     body.Price,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "size order", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quantity": qty})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// ManagerRegistry is what the manager endpoints need from the registry.
type ManagerRegistry interface {
	List(ctx context.Context, network domain.Network, account string) ([]domain.ManagerRecord, error)
	Register(ctx context.Context, network domain.Network, account, poolKey, managerID string) (domain.ManagerRecord, error)
	Forget(ctx context.Context, network domain.Network, account, poolKey string) error
}

// ManagerHandler serves the account to manager registry.
type ManagerHandler struct {
	registry ManagerRegistry
	network  domain.Network
	logger   *slog.Logger
}

// NewManagerHandler creates a ManagerHandler for one network.
func NewManagerHandler(registry ManagerRegistry, network domain.Network, logger *slog.Logger) *ManagerHandler {
	return &ManagerHandler{registry: registry, network: network, logger: logHandler(logger, "manager")}
}

type managerDTO struct {
	Network   string `json:"network"`
	Account   string `json:"account"`
	PoolKey   string `json:"pool_key"`
	ManagerID string `json:"manager_id"`
}

func toManagerDTO(rec domain.ManagerRecord) managerDTO {
	return managerDTO{
		Network:   string(rec.Network),
		Account:   rec.Account,
		PoolKey:   rec.PoolKey,
		ManagerID: rec.ManagerID,
	}
}

// ListManagers returns every manager of an account.
// GET /api/accounts/{account}/managers
func (h *ManagerHandler) ListManagers(w http.ResponseWriter, r *http.Request) {
	recs, err := h.registry.List(r.Context(), h.network, pathParam(r, "account"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list managers", err)
		return
	}
	out := make([]managerDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toManagerDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"managers": out})
}

type registerManagerBody struct {
	PoolKey   string `json:"pool_key"`
	ManagerID string `json:"manager_id"`
}

// RegisterManager records an existing manager for an account.
// POST /api/accounts/{account}/managers
func (h *ManagerHandler) RegisterManager(w http.ResponseWriter, r *http.Request) {
	var body registerManagerBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.PoolKey == "" || body.ManagerID == "" {
		writeError(w, http.StatusBadRequest, "pool_key and manager_id are required")
		return
	}
	rec, err := h.registry.Register(r.Context(), h.network, pathParam(r, "account"), body.PoolKey, body.ManagerID)
	if err != nil {
		writeServiceError(w, r, h.logger, "register manager", err)
		return
	}
	writeJSON(w, http.StatusCreated, toManagerDTO(rec))
}

// ForgetManager removes the mapping for one pool.
// DELETE /api/accounts/{account}/managers?pool_key=SUI_USDC
func (h *ManagerHandler) ForgetManager(w http.ResponseWriter, r *http.Request) {
	poolKey := r.URL.Query().Get("pool_key")
	if poolKey == "" {
		writeError(w, http.StatusBadRequest, "pool_key query parameter required")
		return
	}
	if err := h.registry.Forget(r.Context(), h.network, pathParam(r, "account"), poolKey); err != nil {
		writeServiceError(w, r, h.logger, "forget manager", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

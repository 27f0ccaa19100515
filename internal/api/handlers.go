package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"betvault/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for local development
		// TODO: restrict in production
		return true
	},
}

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	svc    Service
	hub    *Hub
	logger *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc Service, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		svc:    svc,
		hub:    hub,
		logger: logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple health check response
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCreateBet proposes a new bet, escrowing the caller's stake.
func (h *Handlers) HandleCreateBet(w http.ResponseWriter, r *http.Request) {
	var req createBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	spec := types.BetSpec{
		Taker:           req.Taker,
		CollateralAsset: req.CollateralAsset,
		Amount:          req.Amount,
		Duration:        time.Duration(req.DurationSeconds) * time.Second,
		OracleKind:      req.OracleKind,
		OracleMain:      req.OracleMain,
		OracleSecondary: req.OracleSecondary,
		FeeTier:         req.FeeTier,
		PriceLine:       req.PriceLine,
		Comparator:      req.Comparator,
	}

	id, err := h.svc.CreateAndDeposit(r.Context(), req.Caller, spec)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBetResponse{ID: id})
}

// HandleGetBet returns one bet by id.
func (h *Handlers) HandleGetBet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.betID(w, r)
	if !ok {
		return
	}
	bet, err := h.svc.GetBet(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// HandleListBets returns the bets an identity has participated in.
func (h *Handlers) HandleListBets(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing identity query parameter"})
		return
	}
	bets, err := h.svc.BetsOf(identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// HandleBetEvents returns the durable audit log of a bet.
func (h *Handlers) HandleBetEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.betID(w, r)
	if !ok {
		return
	}
	events, err := h.svc.EventsFor(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// HandleTakeBet matches the caller as the taker of a waiting bet.
func (h *Handlers) HandleTakeBet(w http.ResponseWriter, r *http.Request) {
	h.callerAction(w, r, h.svc.TakeAndDeposit)
}

// HandleCancelBet kills an untaken bet and refunds the maker.
func (h *Handlers) HandleCancelBet(w http.ResponseWriter, r *http.Request) {
	h.callerAction(w, r, h.svc.Cancel)
}

// HandleRequestCancel records the caller's consent to cancel a matched bet.
func (h *Handlers) HandleRequestCancel(w http.ResponseWriter, r *http.Request) {
	h.callerAction(w, r, h.svc.RequestCancel)
}

// HandleCloseBet resolves an overdue bet's winner. Permissionless.
func (h *Handlers) HandleCloseBet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.betID(w, r)
	if !ok {
		return
	}
	winner, err := h.svc.CloseBet(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closeBetResponse{Winner: winner})
}

// HandleSettleBet pays out a closed bet. Permissionless.
func (h *Handlers) HandleSettleBet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.betID(w, r)
	if !ok {
		return
	}
	if err := h.svc.SettleBet(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// HandleGetFees returns the current fee and per-asset accruals.
func (h *Handlers) HandleGetFees(w http.ResponseWriter, r *http.Request) {
	accruals := make(map[string]int64)
	for _, asset := range h.svc.Assets() {
		accruals[asset] = h.svc.FeeAccrual(asset)
	}
	writeJSON(w, http.StatusOK, feeResponse{FeeBps: h.svc.FeeBps(), Accruals: accruals})
}

// HandleSetFee changes the protocol fee. Owner only.
func (h *Handlers) HandleSetFee(w http.ResponseWriter, r *http.Request) {
	var req setFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	if err := h.svc.SetFeeBps(r.Context(), req.Caller, req.FeeBps); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"fee_bps": req.FeeBps})
}

// HandleSweep pays accrued fees out to the owner. Owner only.
func (h *Handlers) HandleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	if err := h.svc.Sweep(r.Context(), req.Caller, req.Asset, req.Amount); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "swept"})
}

// HandleWebSocket upgrades the connection and creates a new WebSocket client
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}

// callerAction runs a caller-identified lifecycle action against the bet in
// the path.
func (h *Handlers) callerAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, caller string, id types.BetID) error,
) {
	id, ok := h.betID(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	if err := action(r.Context(), req.Caller, id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// betID parses the {id} path segment. On failure it writes the 400 itself.
func (h *Handlers) betID(w http.ResponseWriter, r *http.Request) (types.BetID, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid bet id"})
		return 0, false
	}
	return types.BetID(id), true
}

// writeError maps the service error taxonomy onto HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, types.ErrInvalidState),
		errors.Is(err, types.ErrExpired),
		errors.Is(err, types.ErrNotYetEligible):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

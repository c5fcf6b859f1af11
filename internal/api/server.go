package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"storeops/internal/bulk"
	"storeops/internal/config"
	"storeops/internal/draft"
	"storeops/internal/models"
	"storeops/internal/ratelimit"
	"storeops/internal/selection"
	"storeops/internal/single"
	"storeops/internal/telemetry"
)

// Server wires HTTP handlers for the operations API.
type Server struct {
	cfg      config.Config
	engine   *bulk.Engine
	selector *selection.Engine
	singles  *single.Ops
	drafts   *draft.Store
	limiter  *ratelimit.Limiter
}

// New constructs the API server. limiter may be nil to disable the confirm
// gate (tests, local dev).
func New(cfg config.Config, engine *bulk.Engine, selector *selection.Engine, singles *single.Ops, drafts *draft.Store, limiter *ratelimit.Limiter) *Server {
	return &Server{
		cfg:      cfg,
		engine:   engine,
		selector: selector,
		singles:  singles,
		drafts:   drafts,
		limiter:  limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/bulk/select", s.handleSelect)
	r.Post("/bulk/drafts", s.handlePrepareBulk)
	r.Get("/bulk/drafts/{id}", s.handleGetBulkDraft)
	r.Delete("/bulk/drafts/{id}", s.handleCancelBulkDraft)
	r.Post("/bulk/drafts/{id}/confirm", s.handleConfirmBulk)
	r.Get("/bulk/progress/{id}", s.handleProgress)
	r.Post("/bulk/rollback/{id}", s.handleRollback)

	r.Post("/orders/{id}/refund", s.handlePrepareRefund)
	r.Post("/refunds/{id}/confirm", s.handleConfirmRefund)
	r.Post("/orders/{id}/status", s.handlePrepareStatus)
	r.Post("/status-updates/{id}/confirm", s.handleConfirmStatus)
	r.Post("/products/{id}/stock", s.handlePrepareStock)
	r.Post("/stock-updates/{id}/confirm", s.handleConfirmStock)

	return r
}

type selectRequest struct {
	Criteria *models.Criteria `json:"criteria,omitempty"`
	Text     string           `json:"text,omitempty"`
}

type selectResponse struct {
	Criteria models.Criteria     `json:"criteria"`
	Result   selection.Selection `json:"result"`
}

// handleSelect resolves structured or free-text criteria into candidates.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Validationf("invalid json"))
		return
	}
	var criteria models.Criteria
	switch {
	case req.Criteria != nil:
		criteria = *req.Criteria
	case req.Text != "":
		criteria = selection.ParseText(req.Text, time.Now())
	default:
		writeError(w, models.Validationf("either criteria or text is required"))
		return
	}

	sel, err := s.selector.Select(r.Context(), criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectResponse{Criteria: criteria, Result: sel})
}

type prepareBulkRequest struct {
	Action   string          `json:"action"`
	OrderIDs []int64         `json:"order_ids"`
	Params   json.RawMessage `json:"params,omitempty"`
}

func (s *Server) handlePrepareBulk(w http.ResponseWriter, r *http.Request) {
	var req prepareBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Validationf("invalid json"))
		return
	}
	d, err := s.engine.PrepareDraft(r.Context(), actorFromRequest(r), req.Action, req.OrderIDs, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetBulkDraft(w http.ResponseWriter, r *http.Request) {
	d, err := s.drafts.Load(r.Context(), actorFromRequest(r), models.DraftBulkAction, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCancelBulkDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.drafts.Cancel(r.Context(), actorFromRequest(r), models.DraftBulkAction, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleConfirmBulk(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if !s.allowConfirm(w, r, actor) {
		return
	}
	res, err := s.engine.Confirm(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if res.Status == models.ProgressQueued {
		code = http.StatusAccepted
	}
	writeJSON(w, code, res)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	prog, err := s.engine.Progress(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Rollback(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type refundRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Server) handlePrepareRefund(w http.ResponseWriter, r *http.Request) {
	orderID, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Validationf("invalid json"))
		return
	}
	d, err := s.singles.PrepareRefund(r.Context(), actorFromRequest(r), orderID, req.AmountCents, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleConfirmRefund(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if !s.allowConfirm(w, r, actor) {
		return
	}
	res, err := s.singles.ConfirmRefund(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handlePrepareStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Validationf("invalid json"))
		return
	}
	d, err := s.singles.PrepareStatus(r.Context(), actorFromRequest(r), orderID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleConfirmStatus(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if !s.allowConfirm(w, r, actor) {
		return
	}
	res, err := s.singles.ConfirmStatus(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type stockRequest struct {
	Qty   *int64 `json:"qty,omitempty"`
	Delta *int64 `json:"delta,omitempty"`
}

func (s *Server) handlePrepareStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, models.Validationf("invalid json"))
		return
	}
	d, err := s.singles.PrepareStock(r.Context(), actorFromRequest(r), productID, req.Qty, req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleConfirmStock(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if !s.allowConfirm(w, r, actor) {
		return
	}
	res, err := s.singles.ConfirmStock(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// allowConfirm applies the per-actor rate limit to confirmation endpoints.
func (s *Server) allowConfirm(w http.ResponseWriter, r *http.Request, actor models.Actor) bool {
	if s.limiter == nil {
		return true
	}
	allowed, err := s.limiter.Allow(r.Context(), actor.ID)
	if err != nil {
		writeError(w, err)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{Code: "rate_limited", Message: "too many confirmations"}})
		return false
	}
	return true
}

func actorFromRequest(r *http.Request) models.Actor {
	if v := r.Header.Get("X-Actor-ID"); v != "" {
		return models.Actor{ID: v}
	}
	return models.Actor{ID: "default"}
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, models.Validationf("invalid %s", name))
		return 0, false
	}
	return id, true
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     string  `json:"code"`
	Message  string  `json:"message"`
	OrderIDs []int64 `json:"order_ids,omitempty"`
}

// writeError maps the engine's error taxonomy onto HTTP. Not-found covers
// expired and already-claimed drafts too, with an identical body, so a
// caller cannot probe which it was.
func writeError(w http.ResponseWriter, err error) {
	var (
		missing  *models.MissingOrdersError
		conflict *models.ConflictError
		ve       *models.ValidationError
	)
	switch {
	case errors.As(err, &missing):
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{Code: "not_found", Message: "orders not found", OrderIDs: missing.OrderIDs}})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{Code: "not_found", Message: "not found"}})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: errorDetail{Code: "conflict", Message: "state changed since draft, re-draft required", OrderIDs: conflict.OrderIDs}})
	case errors.Is(err, models.ErrLimitExceeded):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "limit_exceeded", Message: err.Error()}})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: "validation", Message: ve.Msg}})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Code: "internal", Message: "internal error"}})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

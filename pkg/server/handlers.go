package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/savelolabs/savelo/pkg/engine"
	"github.com/savelolabs/savelo/pkg/ledger"
	"github.com/savelolabs/savelo/pkg/plan"
	"github.com/shopspring/decimal"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// planResponse is a ledger record joined with its derived state and reward
// preview, amounts in display units.
type planResponse struct {
	ID          uint64          `json:"id"`
	Owner       string          `json:"owner"`
	DailyAmount decimal.Decimal `json:"daily_amount"`
	TotalDays   uint32          `json:"total_days"`
	CurrentDay  uint32          `json:"current_day"`
	MissedDays  uint32          `json:"missed_days"`
	StartTime   int64           `json:"start_time"`

	State         plan.State `json:"state"`
	DaysElapsed   int        `json:"days_elapsed"`
	DaysBehind    int        `json:"days_behind"`
	DaysRemaining int        `json:"days_remaining"`
	CanPayToday   bool       `json:"can_pay_today"`
	Progress      float64    `json:"progress"`

	TotalSavings    decimal.Decimal `json:"total_savings"`
	CompletionBonus decimal.Decimal `json:"completion_bonus"`
}

func (s *Server) planResponse(rec *plan.Record) planResponse {
	derived := s.cfg.Engine.Derive(rec)
	daily := plan.FromBaseUnits(rec.DailyAmount, s.cfg.Engine.Decimals())
	savings := plan.TotalSavings(daily, int(rec.TotalDays))

	return planResponse{
		ID:          rec.ID,
		Owner:       rec.Owner,
		DailyAmount: daily,
		TotalDays:   rec.TotalDays,
		CurrentDay:  rec.CurrentDay,
		MissedDays:  rec.MissedDays,
		StartTime:   rec.StartTime,

		State:         derived.State,
		DaysElapsed:   derived.DaysElapsed,
		DaysBehind:    derived.DaysBehind,
		DaysRemaining: derived.DaysRemaining,
		CanPayToday:   derived.CanPayToday,
		Progress:      derived.Progress,

		TotalSavings:    savings,
		CompletionBonus: plan.CompletionReward(savings),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeError maps the core's error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var valErr *ledger.ValidationError
	var netErr *ledger.NetworkError

	switch {
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "validation_failed",
			Message: valErr.Reason,
			Field:   valErr.Field,
		})
	case errors.Is(err, ledger.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", "no such plan")
	case errors.Is(err, ledger.ErrNotActive):
		writeJSONError(w, http.StatusConflict, "not_active", "plan is not active")
	case errors.Is(err, engine.ErrMutationInFlight):
		writeJSONError(w, http.StatusConflict, "mutation_in_flight", err.Error())
	case errors.Is(err, ledger.ErrRejected):
		writeJSONError(w, http.StatusBadRequest, "rejected", "transaction was rejected, you can retry")
	case errors.As(err, &netErr):
		s.log.Error("ledger unreachable", "op", netErr.Op, "error", netErr.Err)
		sentry.CaptureException(err)
		writeJSONError(w, http.StatusBadGateway, "ledger_unavailable", "the ledger is unreachable, try again shortly")
	default:
		s.log.Error("request failed", "error", err)
		sentry.CaptureException(err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	type levelResponse struct {
		plan.Level
		DefaultDays        int             `json:"default_days"`
		DefaultDailyAmount decimal.Decimal `json:"default_daily_amount"`
	}

	levels := plan.Levels()
	out := make([]levelResponse, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelResponse{
			Level:              l,
			DefaultDays:        l.DefaultDays(),
			DefaultDailyAmount: l.DefaultDailyAmount(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": out})
}

func (s *Server) handleAuthNonce(w http.ResponseWriter, r *http.Request) {
	nonce := s.nonces.issue()
	writeJSON(w, http.StatusOK, map[string]string{
		"nonce":   nonce,
		"message": buildSignInMessage(nonce),
	})
}

func (s *Server) handleWalletPlan(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "wallet address is required")
		return
	}

	rec, err := s.cfg.Engine.ResolveWallet(r.Context(), address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "wallet has no plan")
		return
	}
	writeJSON(w, http.StatusOK, s.planResponse(rec))
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	planID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "plan id must be a number")
		return
	}

	rec, err := s.cfg.Engine.GetPlan(r.Context(), planID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.planResponse(rec))
}

type createPlanRequest struct {
	Wallet      string          `json:"wallet"`
	Level       string          `json:"level"`
	Days        int             `json:"days"`
	DailyAmount decimal.Decimal `json:"daily_amount"`
	Message     string          `json:"message"`
	Signature   string          `json:"signature"`
}

type createPlanResponse struct {
	PlanID    uint64        `json:"plan_id"`
	Signature string        `json:"tx_signature"`
	Plan      *planResponse `json:"plan,omitempty"`
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if err := s.authorizeWallet(req.Wallet, req.Message, req.Signature); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	res, rec, err := s.cfg.Engine.CreatePlan(r.Context(), engine.CreateRequest{
		Wallet:      req.Wallet,
		LevelName:   req.Level,
		Days:        req.Days,
		DailyAmount: req.DailyAmount,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := createPlanResponse{PlanID: res.PlanID, Signature: res.Signature}
	if rec != nil {
		pr := s.planResponse(rec)
		out.Plan = &pr
	}
	writeJSON(w, http.StatusCreated, out)
}

type payRequest struct {
	Wallet    string `json:"wallet"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type payResponse struct {
	Signature string        `json:"tx_signature"`
	Plan      *planResponse `json:"plan,omitempty"`
}

func (s *Server) handlePayToday(w http.ResponseWriter, r *http.Request) {
	planID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "plan id must be a number")
		return
	}

	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if err := s.authorizeWallet(req.Wallet, req.Message, req.Signature); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	res, rec, err := s.cfg.Engine.PayToday(r.Context(), req.Wallet, planID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := payResponse{Signature: res.Signature}
	if rec != nil {
		pr := s.planResponse(rec)
		out.Plan = &pr
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arenabot/internal/auth"
	"arenabot/internal/games"
	"arenabot/internal/ledger"
	"arenabot/internal/notify"
	"arenabot/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const principalContextKey contextKey = "principal"

type Server struct {
	log      *slog.Logger
	auth     *auth.Verifier
	engine   *session.Engine
	ledger   ledger.Store
	broker   *notify.Broker
	defaults session.Config
	mux      *chi.Mux
}

func New(logger *slog.Logger, verifier *auth.Verifier, engine *session.Engine, store ledger.Store, broker *notify.Broker, defaults session.Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:      logger,
		auth:     verifier,
		engine:   engine,
		ledger:   store,
		broker:   broker,
		defaults: defaults,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.engine.Registry().Len()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/arenas/{arena}/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/games", s.handleGames)
			r.Get("/arenas", s.handleSessions)
			r.Post("/arenas/{arena}/sessions", s.handleCreate)
			r.Get("/arenas/{arena}", s.handleSnapshot)
			r.Post("/arenas/{arena}/actions", s.handleAction)
			r.Get("/accounts/{player}", s.handleBalance)

			r.Group(func(r chi.Router) {
				r.Use(requireOperator)
				r.Delete("/arenas/{arena}", s.handleAbort)
				r.Post("/accounts/{player}/grant", s.handleGrant)
				r.Get("/reconciliation", s.handleReconciliation)
				r.Post("/reconciliation/{id}/resolve", s.handleResolve)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		who, err := s.auth.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey, who)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, ok := r.Context().Value(principalContextKey).(auth.Principal)
		if !ok || !who.Operator {
			writeError(w, http.StatusForbidden, "operator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalFromContext(ctx context.Context) auth.Principal {
	who, _ := ctx.Value(principalContextKey).(auth.Principal)
	return who
}

func (s *Server) handleGames(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"games": s.engine.Games()})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.engine.Sessions()})
}

type createRequest struct {
	Game               string  `json:"game"`
	EntryFee           *int64  `json:"entry_fee,omitempty"`
	MinParticipants    *int    `json:"min_participants,omitempty"`
	MaxParticipants    *int    `json:"max_participants,omitempty"`
	RegistrationWindow string  `json:"registration_window,omitempty"`
	ConfirmationWindow string  `json:"confirmation_window,omitempty"`
	TickInterval       string  `json:"tick_interval,omitempty"`
	ActiveBudget       string  `json:"active_budget,omitempty"`
	CommissionBps      *int64  `json:"commission_bps,omitempty"`
	HouseAccount       *string `json:"house_account,omitempty"`
	Remainder          string  `json:"remainder,omitempty"`
}

// config layers the request's overrides on top of the server defaults.
func (in createRequest) config(defaults session.Config) (session.Config, error) {
	cfg := defaults
	if in.EntryFee != nil {
		cfg.EntryFee = *in.EntryFee
	}
	if in.MinParticipants != nil {
		cfg.MinParticipants = *in.MinParticipants
	}
	if in.MaxParticipants != nil {
		cfg.MaxParticipants = *in.MaxParticipants
	}
	if in.CommissionBps != nil {
		cfg.CommissionBps = *in.CommissionBps
	}
	if in.HouseAccount != nil {
		cfg.HouseAccount = strings.TrimSpace(*in.HouseAccount)
	}
	if in.Remainder != "" {
		cfg.Remainder = session.RemainderPolicy(in.Remainder)
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"registration_window", in.RegistrationWindow, &cfg.RegistrationWindow},
		{"confirmation_window", in.ConfirmationWindow, &cfg.ConfirmationWindow},
		{"tick_interval", in.TickInterval, &cfg.TickInterval},
		{"active_budget", in.ActiveBudget, &cfg.ActiveBudget},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", session.ErrInvalidConfig, d.name, err)
		}
		*d.dst = v
	}
	return cfg, nil
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in createRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := in.config(s.defaults)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	v, err := s.engine.Create(r.Context(), chi.URLParam(r, "arena"), in.Game, cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("session created via api", "arena_id", v.ArenaID, "by", principalFromContext(r.Context()).Name)
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	v, err := s.engine.Snapshot(chi.URLParam(r, "arena"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = "aborted by " + principalFromContext(r.Context()).Name
	}
	v, err := s.engine.Abort(r.Context(), chi.URLParam(r, "arena"), reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var in session.Action
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		in.Key = key
	}
	res, err := s.engine.Submit(r.Context(), chi.URLParam(r, "arena"), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	arenaID := chi.URLParam(r, "arena")
	ch := s.broker.Subscribe(arenaID)
	defer s.broker.Unsubscribe(arenaID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "event: arena\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	balance, err := s.ledger.Balance(r.Context(), player)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"player_id": player, "balance": balance})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	player := chi.URLParam(r, "player")
	balance, err := s.ledger.Grant(r.Context(), player, in.Amount, "grant:"+idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("balance granted", "player_id", player, "amount", in.Amount, "by", principalFromContext(r.Context()).Name)
	writeJSON(w, http.StatusOK, map[string]any{"player_id": player, "balance": balance})
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.ledger.OpenFailures(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	count, amount := ledger.Summary(items)
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "open_count": count, "open_amount": amount})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var in struct {
		Note string `json:"note"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ledger.ResolveFailure(r.Context(), id, in.Note); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, session.ErrUnknownGame), errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrAlreadyActive), errors.Is(err, session.ErrAlreadyJoined),
		errors.Is(err, session.ErrFull), errors.Is(err, session.ErrWrongPhase),
		errors.Is(err, session.ErrStaleAction), errors.Is(err, ledger.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, session.ErrNotParticipant), errors.Is(err, session.ErrNotEligible):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrInvalidConfig), errors.Is(err, session.ErrUnknownAction),
		errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidRef):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, games.ErrInvalidMove):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrAdapter):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

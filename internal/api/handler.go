package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"promo-code-engine/internal/bundle"
	"promo-code-engine/internal/cache"
	"promo-code-engine/internal/engine"
	"promo-code-engine/internal/session"
)

type Acquirer interface {
	AcquireCodes(ctx context.Context, req engine.Request) (engine.Result, error)
}

type RunStats interface {
	OutcomeCounts(ctx context.Context, since time.Time) (map[string]int, error)
}

type Handler struct {
	acquirer Acquirer
	sessions session.Store
	runner   *session.Runner
	packager *bundle.Packager
	catalog  *cache.Snapshot[engine.Catalog]
	stats    RunStats
}

func NewHandler(acq Acquirer, sessions session.Store, packager *bundle.Packager, catalog *cache.Snapshot[engine.Catalog], stats RunStats) *Handler {
	return &Handler{
		acquirer: acq,
		sessions: sessions,
		runner:   session.NewRunner(acq),
		packager: packager,
		catalog:  catalog,
		stats:    stats,
	}
}

type codesRequest struct {
	Product string   `json:"product"`
	Choices []string `json:"choices"`
}

type codesResponse struct {
	RunID   string `json:"run_id,omitempty"`
	Product string `json:"product"`
	CodeA   string `json:"codeA"`
	CodeB   string `json:"codeB,omitempty"`
}

type errorResponse struct {
	Error   string          `json:"error"`
	Kind    string          `json:"kind,omitempty"`
	Partial bool            `json:"partial,omitempty"`
	Done    []codesResponse `json:"completed,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toResponse(r engine.Result) codesResponse {
	b, _ := r.CodeB()
	return codesResponse{RunID: r.RunID, Product: string(r.Product), CodeA: r.CodeA(), CodeB: b}
}

// statusFor maps a run failure to an HTTP status.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidChoice:
		return http.StatusBadRequest
	case engine.KindCatalogMismatch:
		return http.StatusConflict
	case engine.KindRetriesExhausted:
		return http.StatusServiceUnavailable
	case engine.KindCaptcha, engine.KindRemote, engine.KindActivation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeRunError(w http.ResponseWriter, err error, done []engine.Result) {
	kind := engine.KindOf(err)
	resp := errorResponse{Error: err.Error(), Kind: string(kind), Partial: kind == engine.KindActivation}
	for _, r := range done {
		resp.Done = append(resp.Done, toResponse(r))
	}
	writeJSON(w, statusFor(kind), resp)
}

func (h *Handler) AcquireCodes(w http.ResponseWriter, r *http.Request) {
	var in codesRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	req := engine.Request{Product: engine.ProductType(in.Product)}
	for _, c := range in.Choices {
		req.Choices = append(req.Choices, engine.Choice(c))
	}

	res, err := h.acquirer.AcquireCodes(r.Context(), req)
	if err != nil {
		writeRunError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

type sessionRequest struct {
	Caller  string `json:"caller"`
	Product string `json:"product"`
	Lots    int    `json:"lots"`
	CountA  int    `json:"countA"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var in sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	catalog, _ := h.catalog.Load()
	spec, err := catalog.Product(engine.ProductType(in.Product))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: string(engine.KindOf(err))})
		return
	}
	s, err := session.Plan(in.Caller, spec, catalog, in.Lots, in.CountA)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	switch err := h.sessions.Create(r.Context(), s); {
	case errors.Is(err, session.ErrExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Str("caller", in.Caller).Msg("create session")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session store unavailable"})
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// ConfirmSession consumes the caller's session and runs every lot. The
// answer is a zip of QR images, or JSON with ?format=json.
func (h *Handler) ConfirmSession(w http.ResponseWriter, r *http.Request) {
	caller := chi.URLParam(r, "caller")
	s, err := h.sessions.Take(r.Context(), caller)
	if errors.Is(err, session.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("caller", caller).Msg("take session")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session store unavailable"})
		return
	}

	results, err := h.runner.Run(r.Context(), s)
	if err != nil {
		writeRunError(w, err, results)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		out := make([]codesResponse, 0, len(results))
		for _, res := range results {
			out = append(out, toResponse(res))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	var buf bytes.Buffer
	if err := h.packager.Write(&buf, results); err != nil {
		log.Error().Err(err).Str("caller", caller).Msg("package codes")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "packaging failed"})
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="QRcodes_`+caller+`.zip"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) DiscardSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Discard(r.Context(), chi.URLParam(r, "caller")); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "session store unavailable"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RunStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run audit is disabled"})
		return
	}
	window := 24 * time.Hour
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "since must be a positive duration"})
			return
		}
		window = d
	}
	counts, err := h.stats.OutcomeCounts(r.Context(), time.Now().Add(-window))
	if err != nil {
		log.Error().Err(err).Msg("run stats")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

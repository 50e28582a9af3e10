package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/candidate-intake/internal/ingest"
	"github.com/sells-group/candidate-intake/internal/metrics"
	"github.com/sells-group/candidate-intake/internal/model"
)

// maxBodyBytes bounds webhook payloads; forwarded HTML mail can be large.
const maxBodyBytes = 2 << 20

// buildRouter assembles the HTTP surface: public health and metrics,
// key-protected webhooks and batch admin endpoints.
func buildRouter(env *intakeEnv, apiKey string, allowedOrigins []string) http.Handler {
	h := &handlers{env: env}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Api-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(apiKey))
		r.Use(middleware.RequestSize(maxBodyBytes))

		r.Post("/webhook/customers", h.ingestCustomer)
		r.Post("/webhook/email", h.ingestEmail)

		r.Route("/admin/batch", func(r chi.Router) {
			r.Post("/run", h.batchRun)
			r.Get("/status", h.batchStatus)
			r.Delete("/checkpoint", h.batchReset)
		})
	})
	return r
}

type handlers struct {
	env *intakeEnv
	// runMu keeps admin-triggered batch runs from overlapping in this process.
	runMu sync.Mutex
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("x-api-key")
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.env.Store.Ping(r.Context()); err != nil {
		zap.L().Warn("health: store ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingestCustomer handles a structured customer payload on the strict path.
func (h *handlers) ingestCustomer(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := candidateFromPayload(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondIngest(w, "webhook", false, func() (*ingest.Result, error) {
		return h.env.Pipeline.Engine().IngestOne(r.Context(), c)
	})
}

type emailRequest struct {
	Subject   string `json:"subject"`
	From      string `json:"from"`
	EmailBody string `json:"emailBody"`
	Body      string `json:"body"`
	Date      string `json:"date"`
}

// ingestEmail handles a raw forwarded email.
func (h *handlers) ingestEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body := req.EmailBody
	if body == "" {
		body = req.Body
	}
	msg := model.Message{Subject: req.Subject, From: req.From, Body: body}
	if d, ok := ingest.ParseDate(req.Date); ok {
		msg.Date = d
	}

	h.respondIngest(w, "email", true, func() (*ingest.Result, error) {
		return h.env.Pipeline.ProcessEmail(r.Context(), msg)
	})
}

// respondIngest maps ingestion results onto the webhook status codes.
// withParsed adds the partially extracted fields to validation failures.
func (h *handlers) respondIngest(w http.ResponseWriter, path string, withParsed bool, run func() (*ingest.Result, error)) {
	res, err := run()

	var verr *ingest.ValidationError
	var conflict *ingest.ConflictError
	switch {
	case err == nil:
		metrics.RecordIngest(path, string(res.Outcome))
		writeJSON(w, http.StatusCreated, map[string]string{"customer_id": res.CustomerID})
	case eris.Is(err, ingest.ErrNotCandidate):
		metrics.RecordIngest(path, "ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	case errors.As(err, &verr):
		metrics.RecordIngest(path, "invalid")
		resp := map[string]any{
			"error":   "missing required fields: " + strings.Join(verr.Missing, ", "),
			"missing": verr.Missing,
		}
		if withParsed {
			resp["parsed"] = verr.Partial
		}
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.As(err, &conflict):
		metrics.RecordIngest(path, string(model.OutcomeConflict))
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":       "customer already exists",
			"customer_id": conflict.CustomerID,
		})
	default:
		metrics.RecordIngest(path, string(model.OutcomeError))
		zap.L().Error("ingest failed", zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *handlers) batchRun(w http.ResponseWriter, r *http.Request) {
	if !h.runMu.TryLock() {
		writeError(w, http.StatusConflict, "batch run already in progress")
		return
	}
	defer h.runMu.Unlock()

	report, err := h.env.Processor.Run(r.Context())
	if err != nil {
		zap.L().Error("batch run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) batchStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.env.Processor.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) batchReset(w http.ResponseWriter, r *http.Request) {
	if err := h.env.Processor.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

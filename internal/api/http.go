package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/loqalabs/loqa-translate/internal/artifact"
	"github.com/loqalabs/loqa-translate/internal/capability"
	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/language"
	"github.com/loqalabs/loqa-translate/internal/pipeline"
)

// Pipeline is the transport-agnostic core served over HTTP and NATS.
type Pipeline interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
	TranslateText(ctx context.Context, text, source string, targets []string) (*pipeline.TextResponse, error)
}

type Timeline interface {
	GetRequest(ctx context.Context, requestID string) (eventstore.Request, error)
	ListRequestEvents(ctx context.Context, requestID string, limit int) ([]eventstore.Event, error)
}

// Options configures the HTTP handler. Timeline, Capabilities and Metrics may
// be nil.
type Options struct {
	Pipeline           Pipeline
	Artifacts          artifact.Store
	Timeline           Timeline
	Languages          *language.Registry
	Capabilities       *capability.Set
	Metrics            http.Handler
	Ready              func() bool
	MaxUploadBytes     int64
	CORSOrigins        []string
	RateLimitPerMinute int
	Logger             *slog.Logger
}

type handler struct {
	opts   Options
	logger *slog.Logger
}

// NewHandler builds the chi router.
func NewHandler(opts Options) http.Handler {
	h := &handler{opts: opts, logger: opts.Logger.With(slog.String("component", "http-api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/v1", func(v1 chi.Router) {
		if opts.RateLimitPerMinute > 0 {
			v1.Use(httprate.LimitByIP(opts.RateLimitPerMinute, time.Minute))
		}
		v1.Post("/process", h.process)
		v1.Post("/translate", h.translate)
		v1.Get("/artifacts/{id}", h.artifact)
		v1.Get("/requests/{id}/events", h.events)
		v1.Get("/languages", h.languages)
		v1.Get("/capabilities", h.capabilities)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) ready(w http.ResponseWriter, _ *http.Request) {
	if h.opts.Ready == nil || h.opts.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (h *handler) process(w http.ResponseWriter, r *http.Request) {
	limit := h.opts.MaxUploadBytes
	if limit > 0 {
		// multipart framing and form fields ride on top of the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errorBody{Kind: string(pipeline.KindInput), Stage: string(pipeline.StageIngest),
				Message: fmt.Sprintf("upload exceeds %s", humanize.Bytes(uint64(limit)))})
			return
		}
		writeError(w, http.StatusBadRequest, errorBody{Kind: string(pipeline.KindInput), Stage: string(pipeline.StageIngest), Message: "expected multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: string(pipeline.KindInput), Stage: string(pipeline.StageIngest), Message: "missing file field"})
		return
	}
	data, err := readUpload(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: string(pipeline.KindInput), Stage: string(pipeline.StageIngest), Message: err.Error()})
		return
	}

	synthesize, err := formBool(r, "synthesize", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: string(pipeline.KindInput), Message: err.Error()})
		return
	}
	cloneVoice, err := formBool(r, "clone_voice", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: string(pipeline.KindInput), Message: err.Error()})
		return
	}

	req := pipeline.Request{
		Origin:         "http",
		Filename:       header.Filename,
		Audio:          data,
		Targets:        splitTargets(r.MultipartForm.Value["targets"]),
		SourceLanguage: r.FormValue("source_language"),
		CloneVoice:     cloneVoice,
		Synthesize:     synthesize,
	}
	resp, err := h.opts.Pipeline.Process(r.Context(), req)
	if err != nil {
		h.writePipelineError(w, err, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type translateBody struct {
	Text           string   `json:"text"`
	SourceLanguage string   `json:"source_language"`
	Targets        []string `json:"targets"`
}

func (h *handler) translate(w http.ResponseWriter, r *http.Request) {
	var body translateBody
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: string(pipeline.KindInput), Stage: string(pipeline.StageTranslate), Message: "invalid json body"})
		return
	}
	resp, err := h.opts.Pipeline.TranslateText(r.Context(), body.Text, body.SourceLanguage, splitTargets(body.Targets))
	if err != nil {
		h.writePipelineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) artifact(w http.ResponseWriter, r *http.Request) {
	if h.opts.Artifacts == nil {
		http.NotFound(w, r)
		return
	}
	obj, err := h.opts.Artifacts.Take(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, errorBody{Message: "artifact not found or already retrieved"})
		return
	}
	if err != nil {
		h.logger.Error("artifact read failed", slogError(err))
		writeError(w, http.StatusInternalServerError, errorBody{Message: "artifact read failed"})
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	if obj.Language != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.wav"`, obj.Language))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

type timelineResponse struct {
	Request eventstore.Request `json:"request"`
	Events  []eventstore.Event `json:"events"`
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if h.opts.Timeline == nil {
		writeError(w, http.StatusNotFound, errorBody{Message: "event store disabled"})
		return
	}
	id := chi.URLParam(r, "id")
	req, err := h.opts.Timeline.GetRequest(r.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, errorBody{Message: "request not found"})
		return
	}
	if err != nil {
		h.logger.Error("timeline lookup failed", slog.String("request_id", id), slogError(err))
		writeError(w, http.StatusInternalServerError, errorBody{Message: "timeline lookup failed"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, errorBody{Kind: string(pipeline.KindInput), Message: "limit must be a positive integer"})
			return
		}
	}
	events, err := h.opts.Timeline.ListRequestEvents(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("timeline lookup failed", slog.String("request_id", id), slogError(err))
		writeError(w, http.StatusInternalServerError, errorBody{Message: "timeline lookup failed"})
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, timelineResponse{Request: req, Events: events})
}

func (h *handler) languages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": h.opts.Languages.List()})
}

func (h *handler) capabilities(w http.ResponseWriter, _ *http.Request) {
	var statuses []capability.Status
	if h.opts.Capabilities != nil {
		statuses = h.opts.Capabilities.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": statuses})
}

type errorBody struct {
	Kind    string `json:"kind,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error    errorBody          `json:"error"`
	Response *pipeline.Response `json:"response,omitempty"`
}

// StatusFor maps a pipeline error kind to an HTTP status.
func StatusFor(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindInput:
		return http.StatusBadRequest
	case pipeline.KindStage:
		return http.StatusBadGateway
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writePipelineError(w http.ResponseWriter, err error, resp *pipeline.Response) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		h.logger.Error("unclassified pipeline error", slogError(err))
		writeError(w, http.StatusInternalServerError, errorBody{Message: "internal error"})
		return
	}
	body := errorBody{Kind: string(pe.Kind), Stage: string(pe.Stage), Message: pe.Message}
	if pe.Err != nil && pe.Kind == pipeline.KindInput {
		body.Message = pe.Err.Error()
	}
	writeJSON(w, StatusFor(pe.Kind), errorResponse{Error: body, Response: resp})
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, errorResponse{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readUpload(file multipart.File) ([]byte, error) {
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

// splitTargets accepts repeated fields as well as comma separated lists.
func splitTargets(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func formBool(r *http.Request, key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return v, nil
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("http_request_id", middleware.GetReqID(r.Context())))
	})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

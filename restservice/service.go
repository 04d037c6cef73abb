// Package restservice provides the base for building small JSON services
// whose endpoints register with service discovery.
package restservice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/atelierhq/atelier/trap"
)

const HeaderCorrelationID = "x-correlation-id"

// Params carries the merged request parameters handed to a handler:
// path variables, query string values, and JSON body fields.
type Params map[string]any

// String returns a parameter as a string.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	if v, ok := p[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// Response is what a route handler returns.
type Response struct {
	StatusCode int
	Body       any
	Headers    map[string]string
}

// OKResponse wraps a body in a 200 response.
func OKResponse(body any) *Response {
	return &Response{StatusCode: http.StatusOK, Body: body}
}

// ErrorResponse builds an error payload response.
func ErrorResponse(message string, statusCode int) *Response {
	return &Response{
		StatusCode: statusCode,
		Body:       map[string]any{"message": message, "ok": false},
	}
}

// NotFoundResponse builds a 404 payload for a resource.
func NotFoundResponse(resource string) *Response {
	return ErrorResponse(fmt.Sprintf("Resource %s not found", resource), http.StatusNotFound)
}

// HandlerFunc processes one request.
type HandlerFunc func(r *http.Request, params Params) (*Response, error)

// Route binds a method and path to a handler.
type Route struct {
	Method            string
	Path              string
	Handler           HandlerFunc
	RequiredArguments []string
}

// Service is a JSON HTTP service over a mux router.
type Service struct {
	name     string
	router   *mux.Router
	reporter *trap.Reporter
	logger   zerolog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithExceptionReporter sends handler failures to the exception trap.
func WithExceptionReporter(reporter *trap.Reporter) ServiceOption {
	return func(s *Service) { s.reporter = reporter }
}

// WithServiceLogger overrides the default component logger.
func WithServiceLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService builds a service and registers its routes. Duplicate
// method and path pairs are rejected.
func NewService(name string, routes []Route, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		name:   name,
		router: mux.NewRouter(),
		logger: log.With().Str("component", "restservice").Str("service", name).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	seen := map[string]bool{}
	for _, route := range routes {
		key := route.Method + " " + route.Path
		if seen[key] {
			return nil, fmt.Errorf("restservice: duplicate route %s", key)
		}
		seen[key] = true
		s.router.HandleFunc(route.Path, s.wrap(route)).Methods(route.Method)
	}

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": name})
	}).Methods(http.MethodGet)

	s.router.Use(s.requestLogging)

	return s, nil
}

// Handler exposes the service as an http.Handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the service on addr.
func (s *Service) ListenAndServe(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("http service listening")
	return http.ListenAndServe(addr, s.router)
}

func (s *Service) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		corrID := r.Header.Get(HeaderCorrelationID)
		if corrID == "" {
			corrID = uuid.NewString()
		}

		logger := s.logger.With().Str("correlation_id", corrID).Logger()
		ctx := logger.WithContext(r.Context())

		w.Header().Set(HeaderCorrelationID, corrID)
		next.ServeHTTP(w, r.WithContext(ctx))

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Msg("request completed")
	})
}

func (s *Service) wrap(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := requestParams(r)

		if missing := missingArguments(route.RequiredArguments, params); len(missing) > 0 {
			resp := ErrorResponse(fmt.Sprintf("Request missing arguments: %v", missing), http.StatusBadRequest)
			writeResponse(w, resp)
			return
		}

		resp, err := route.Handler(r, params)
		if err != nil {
			s.reportFailure(r, params, err)
			writeResponse(w, ErrorResponse("Internal server error", http.StatusInternalServerError))
			return
		}
		if resp == nil {
			resp = OKResponse(map[string]any{"ok": true})
		}
		writeResponse(w, resp)
	}
}

func (s *Service) reportFailure(r *http.Request, params Params, handlerErr error) {
	s.logger.Error().Err(handlerErr).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("handler failed")

	if s.reporter == nil {
		return
	}
	reported := &trap.ReportedException{
		FunctionName: s.name,
		Exception:    handlerErr.Error(),
		OriginatingEvent: map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"parameters": map[string]any(params),
		},
	}
	if err := s.reporter.Report(r.Context(), reported); err != nil {
		s.logger.Warn().Err(err).Msg("unable to report handler failure")
	}
}

func requestParams(r *http.Request) Params {
	params := Params{}

	if r.Body != nil {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			for k, v := range body {
				params[k] = v
			}
		}
	}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	for key, value := range mux.Vars(r) {
		params[key] = value
	}
	return params
}

func missingArguments(required []string, params Params) []string {
	var missing []string
	for _, name := range required {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	writeJSON(w, resp.StatusCode, resp.Body)
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

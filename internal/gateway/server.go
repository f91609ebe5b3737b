// Package gateway exposes the named-query engine over HTTP.
//
// Routes:
//
//	GET  /healthz               liveness and registry size
//	GET  /metrics               Prometheus exposition, when a gatherer is set
//	POST /token                 client credentials exchange, when clients are set
//	GET  /queries?prefix=       registered query names
//	POST /queries/{name}/{op}   run a query; op is select, get, page, forward,
//	                            search, aggregate or render
//
// When an auth secret is configured the /queries routes require an HS256
// bearer token.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/conduit-lang/namedquery/internal/query/engine"
)

const maxBodyBytes = 1 << 20

// Config holds gateway configuration
type Config struct {
	Address    string
	AuthSecret string
	TokenTTL   time.Duration
	// Clients maps lowercase client ids to bcrypt hashed secrets
	Clients map[string]string
	// Gatherer backs GET /metrics; nil disables the route
	Gatherer prometheus.Gatherer
	// RateLimit is the number of /queries requests a caller may make per
	// RateWindow; 0 disables limiting
	RateLimit  int
	RateWindow time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the gateway defaults for address
func DefaultConfig(address string) Config {
	return Config{
		Address:         address,
		TokenTTL:        time.Hour,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateWindow:      time.Minute,
	}
}

// Server serves named queries over HTTP
type Server struct {
	engine  *engine.Engine
	config  Config
	tokens  *TokenService
	limiter *RateLimiter
	logger  *zap.Logger
	router  chi.Router
}

// NewServer creates a Server for eng
func NewServer(eng *engine.Engine, config Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: eng,
		config: config,
		logger: logger,
	}
	if config.RateLimit > 0 {
		s.limiter = NewRateLimiter(config.RateLimit, config.RateWindow)
	}
	if config.AuthSecret != "" {
		s.tokens = NewTokenService(config.AuthSecret, config.TokenTTL)
	}
	s.router = s.routes()
	return s
}

// Tokens returns the token service, or nil when auth is disabled
func (s *Server) Tokens() *TokenService {
	return s.tokens
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID(), Recovery(s.logger), Logging(s.logger, "/healthz", "/metrics"))

	r.Get("/healthz", s.handleHealth)
	if s.config.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.tokens != nil && len(s.config.Clients) > 0 {
		r.Post("/token", s.handleToken)
	}

	r.Group(func(r chi.Router) {
		if s.tokens != nil {
			r.Use(Auth(s.tokens))
		}
		if s.limiter != nil {
			r.Use(RateLimit(s.limiter))
		}
		r.Get("/queries", s.handleList)
		r.Post("/queries/{name}/{op}", s.handleQuery)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", zap.String("address", s.config.Address), zap.Bool("auth", s.tokens != nil))
		errCh <- srv.ListenAndServe()
	}()

	if s.limiter != nil {
		go s.sweep(ctx)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("gateway shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.limiter.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.limiter.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"queries": s.engine.Registry().Len(),
	})
}

type tokenRequest struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Queries      []string `json:"queries,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid token request: %w", err))
		return
	}

	hash, ok := s.config.Clients[strings.ToLower(req.ClientID)]
	if !ok || !CheckSecret(req.ClientSecret, hash) {
		renderError(w, http.StatusUnauthorized, "unauthorized", fmt.Errorf("invalid client credentials"))
		return
	}

	token, err := s.tokens.GenerateToken(req.ClientID, req.Queries)
	if err != nil {
		renderError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	renderJSON(w, http.StatusOK, &tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
	})
}

// QueryInfo describes one registered query
type QueryInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source,omitempty"`
	Parameters  []string `json:"parameters,omitempty"`
	Fetches     []string `json:"fetches,omitempty"`
	Cache       bool     `json:"cache"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	infos := []QueryInfo{}
	for _, def := range s.engine.Registry().Search(r.URL.Query().Get("prefix")) {
		name := def.VersionedName()
		if principal != nil && !principal.Allows(name) {
			continue
		}
		info := QueryInfo{
			Name:        name,
			Description: def.Description,
			Source:      def.Source,
			Fetches:     def.FetchQueryNames(),
			Cache:       def.Cache,
		}
		for param := range def.Parameters {
			info.Parameters = append(info.Parameters, param)
		}
		sort.Strings(info.Parameters)
		infos = append(infos, info)
	}
	renderJSON(w, http.StatusOK, infos)
}

// RenderResponse is returned by the render op
type RenderResponse struct {
	Query  string                 `json:"query"`
	Script string                 `json:"script"`
	Args   []interface{}          `json:"args,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	op := chi.URLParam(r, "op")

	if principal := GetPrincipal(r.Context()); principal != nil && !principal.Allows(name) {
		renderError(w, http.StatusForbidden, "forbidden", fmt.Errorf("token does not grant query %s", name))
		return
	}

	params, err := decodeParams(r)
	if err != nil {
		renderError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	ctx := r.Context()
	var result interface{}
	switch op {
	case engine.OpSelect:
		rows, err := s.engine.Select(ctx, name, params)
		if err != nil {
			s.queryFailed(w, r, name, op, err)
			return
		}
		if rows == nil {
			rows = []map[string]interface{}{}
		}
		result = rows
	case engine.OpGet:
		row, err := s.engine.Get(ctx, name, params)
		if err != nil {
			s.queryFailed(w, r, name, op, err)
			return
		}
		if row == nil {
			renderError(w, http.StatusNotFound, "no_rows", fmt.Errorf("query %s returned no rows", name))
			return
		}
		result = row
	case engine.OpPage:
		page, err := s.engine.Page(ctx, name, params)
		if err != nil {
			s.queryFailed(w, r, name, op, err)
			return
		}
		result = page
	case engine.OpForward:
		list, err := s.engine.Forward(ctx, name, params)
		if err != nil {
			s.queryFailed(w, r, name, op, err)
			return
		}
		result = list
	case engine.OpSearch, engine.OpAggregate:
		run := s.engine.Search
		if op == engine.OpAggregate {
			run = s.engine.Aggregate
		}
		resp, err := run(ctx, name, params)
		if err != nil {
			s.queryFailed(w, r, name, op, err)
			return
		}
		result = resp
	case "render":
		q, err := s.engine.Render(name, params)
		if err != nil {
			s.queryFailed(w, r, name, op, err)
			return
		}
		result = &RenderResponse{Query: q.Name(), Script: q.Script(), Args: q.Args(), Params: q.Params()}
	default:
		renderError(w, http.StatusNotFound, "not_found", fmt.Errorf("unknown operation %q", op))
		return
	}
	renderJSON(w, http.StatusOK, result)
}

func (s *Server) queryFailed(w http.ResponseWriter, r *http.Request, name, op string, err error) {
	s.logger.Warn("query failed",
		zap.String("request_id", GetRequestID(r.Context())),
		zap.String("query", name),
		zap.String("op", op),
		zap.Error(err),
	)
	renderQueryError(w, err)
}

// decodeParams reads the JSON object body; an empty body means no params
func decodeParams(r *http.Request) (map[string]interface{}, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()

	var params map[string]interface{}
	if err := dec.Decode(&params); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, nil
}

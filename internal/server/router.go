package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/botvisor/internal/bot"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/supervisor"
)

// Router provides embeddable HTTP handlers for managing bots.
// Endpoints:
//
//	GET    {basePath}/bots             list (reconciles liveness first)
//	POST   {basePath}/bots/add         body: {"path": "/abs/bot/main.py"}
//	POST   {basePath}/bots/:idx/start
//	POST   {basePath}/bots/:idx/stop
//	DELETE {basePath}/bots/:idx
//	GET    {basePath}/logs             query: format=lines for preformatted strings
//	GET    {basePath}/healthz
//	GET    {basePath}/metrics          only when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
	metrics  bool
	logger   *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/bots, /api/logs, ...
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath), logger: slog.Default()}
}

// WithMetrics exposes the Prometheus handler under {basePath}/metrics.
func (r *Router) WithMetrics(enabled bool) *Router {
	r.metrics = enabled
	return r
}

// WithLogger sets the request error logger.
func (r *Router) WithLogger(l *slog.Logger) *Router {
	if l != nil {
		r.logger = l
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/bots", r.handleList)
	group.POST("/bots/add", r.handleAdd)
	group.POST("/bots/:idx/start", r.handleStart)
	group.POST("/bots/:idx/stop", r.handleStop)
	group.DELETE("/bots/:idx", r.handleDelete)
	group.GET("/logs", r.handleLogs)
	group.GET("/healthz", r.handleHealth)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Bind errors are reported synchronously; serving continues in the background
// until the returned server is shut down.
func NewServer(addr string, r *Router) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// stop may block for the grace period plus the kill wait
		WriteTimeout: 30*time.Second + 2*r.sup.GracePeriod(),
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server stopped", "error", err)
		}
	}()
	return server, nil
}

// --- Handlers ---

type response struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Bot     *bot.Bot `json:"bot,omitempty"`
}

type addRequest struct {
	Path string `json:"path"`
}

// statusFor maps lifecycle errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bot.ErrOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, bot.ErrPersistenceFailed):
		return http.StatusInternalServerError
	case bot.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// reply writes the outcome of an operation that may have completed and still
// failed to persist; in that case the message of the completed step is kept
// next to the persistence error.
func (r *Router) reply(c *gin.Context, msg string, b *bot.Bot, err error) {
	if err == nil {
		writeJSON(c, http.StatusOK, response{Success: true, Message: msg, Bot: b})
		return
	}
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		r.logger.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	}
	text := err.Error()
	if msg != "" {
		text = msg + "; " + text
	}
	writeJSON(c, code, response{Success: false, Message: text, Bot: b})
}

func (r *Router) handleList(c *gin.Context) {
	bots, err := r.sup.List(c.Request.Context())
	if err != nil {
		// reconciliation result is still correct in memory
		r.logger.Warn("list: persist reconciled bots failed", "error", err)
	}
	writeJSON(c, http.StatusOK, bots)
}

func (r *Router) handleAdd(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, response{Message: "invalid JSON: " + err.Error()})
		return
	}
	b, err := r.sup.Add(c.Request.Context(), req.Path)
	if err != nil && !errors.Is(err, bot.ErrPersistenceFailed) {
		r.reply(c, "", nil, err)
		return
	}
	r.reply(c, "Bot added", &b, err)
}

func (r *Router) handleStart(c *gin.Context) {
	idx, ok := parseIndex(c)
	if !ok {
		return
	}
	msg, err := r.sup.Start(c.Request.Context(), idx)
	r.reply(c, msg, nil, err)
}

func (r *Router) handleStop(c *gin.Context) {
	idx, ok := parseIndex(c)
	if !ok {
		return
	}
	msg, err := r.sup.Stop(c.Request.Context(), idx)
	r.reply(c, msg, nil, err)
}

func (r *Router) handleDelete(c *gin.Context) {
	idx, ok := parseIndex(c)
	if !ok {
		return
	}
	msg, err := r.sup.Remove(c.Request.Context(), idx)
	r.reply(c, msg, nil, err)
}

func (r *Router) handleLogs(c *gin.Context) {
	if c.Query("format") == "lines" {
		writeJSON(c, http.StatusOK, r.sup.Ring().Lines())
		return
	}
	writeJSON(c, http.StatusOK, r.sup.Logs())
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, response{Success: true, Message: "ok"})
}

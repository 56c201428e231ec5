// Package server exposes the limiter over HTTP: interception middleware for
// net/http and gin, a demo API, Prometheus metrics and a live decision feed.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/fingerprint"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
)

// ServiceName identifies the HTTP service in responses and traces.
const ServiceName = "gatekeep"

var errSimulatedFailure = errors.New("simulated operation failure")

// Options wires a Server.
type Options struct {
	Addr     string
	Engine   *limiter.Engine
	Policies *limiter.PolicySet
	Logger   *zap.Logger
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Recorder, if set, captures every attempt for later replay.
	Recorder *recorder.Recorder
	// RecordHeaders are the request headers kept in captured traffic.
	RecordHeaders []string
}

// Server is the Gatekeep HTTP server.
type Server struct {
	engine     *limiter.Engine
	policies   *limiter.PolicySet
	logger     *zap.Logger
	hub        *Hub
	recorder   *recorder.Recorder
	recHeaders []string
	router     *gin.Engine
	httpServer *http.Server
}

// New creates a new Gatekeep server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		engine:     opts.Engine,
		policies:   opts.Policies,
		logger:     logger,
		hub:        NewHub(logger),
		recorder:   opts.Recorder,
		recHeaders: opts.RecordHeaders,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware(ServiceName))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:   []string{HeaderLimit, HeaderRemaining, HeaderReset, HeaderRetryAfter},
		MaxAge:          12 * time.Hour,
	}))
	s.router = router
	s.routes(gatherer)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/ws", gin.WrapF(s.hub.HandleWebSocket))

	api := s.router.Group("/api")
	{
		api.GET("/policies", s.handlePolicies)
		api.GET("/check/:policy", s.handleCheck)
		api.POST("/attempt/:policy", s.handleAttempt)
	}

	// One statically guarded route per policy.
	demo := s.router.Group("/demo")
	for _, p := range s.policies.Policies() {
		demo.POST("/"+p.Name, GinMiddleware(s.engine, p, WithObserver(s.observe)), s.handleDemo)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":  ServiceName,
		"status":   "running",
		"time":     s.engine.Clock().Now().Format(time.RFC3339),
		"policies": s.policies.Names(),
	})
}

// handleHealth pings the shared store.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.engine.Store().Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePolicies(c *gin.Context) {
	c.JSON(http.StatusOK, s.policies.Policies())
}

func (s *Server) lookup(c *gin.Context) (limiter.Policy, bool) {
	p, err := s.policies.Lookup(c.Param("policy"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return limiter.Policy{}, false
	}
	return p, true
}

// handleCheck reports the decision without running or recording anything.
func (s *Server) handleCheck(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}

	attrs := fingerprint.FromRequest(c.Request)
	d := s.engine.Check(c.Request.Context(), p, attrs)
	SetHeaders(c.Writer.Header(), d)
	s.broadcast(c.Request, p, attrs, d, false)

	if !d.Allowed {
		c.JSON(http.StatusTooManyRequests, denyBody(d))
		return
	}
	c.JSON(http.StatusOK, d)
}

// handleAttempt runs a guarded no-op operation. With ?fail=true the
// operation fails and the attempt is not recorded.
func (s *Server) handleAttempt(c *gin.Context) {
	p, ok := s.lookup(c)
	if !ok {
		return
	}
	fail, _ := strconv.ParseBool(c.Query("fail"))

	attrs := fingerprint.FromRequest(c.Request)
	d, err := s.engine.Guard(c.Request.Context(), p, attrs, func(context.Context) error {
		if fail {
			return errSimulatedFailure
		}
		return nil
	})
	succeeded := d.Allowed && err == nil
	SetHeaders(c.Writer.Header(), d)
	s.capture(c.Request, p, attrs, d, succeeded)

	switch {
	case !d.Allowed:
		c.JSON(http.StatusTooManyRequests, denyBody(d))
	case err != nil:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "decision": d})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "decision": d})
	}
}

func (s *Server) handleDemo(c *gin.Context) {
	if fail, _ := strconv.ParseBool(c.Query("fail")); fail {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errSimulatedFailure.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// observe feeds middleware events to the recorder and the hub.
func (s *Server) observe(ev Event) {
	attrs := fingerprint.FromRequest(ev.Request)
	s.capture(ev.Request, ev.Policy, attrs, ev.Decision, ev.Recorded)
}

func (s *Server) capture(r *http.Request, p limiter.Policy, attrs fingerprint.Attributes, d limiter.Decision, succeeded bool) {
	rec := s.broadcast(r, p, attrs, d, succeeded)
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(rec); err != nil {
		s.logger.Warn("traffic capture failed", zap.Error(err))
	}
}

func (s *Server) broadcast(r *http.Request, p limiter.Policy, attrs fingerprint.Attributes, d limiter.Decision, succeeded bool) recorder.TrafficRecord {
	now := s.engine.Clock().Now()
	rec := recorder.NewTrafficRecord(now, p.Name, r, s.recHeaders)
	rec.Succeeded = succeeded
	s.hub.Broadcast(recorder.DecisionEvent{
		Record:      rec,
		Fingerprint: s.engine.Keys().Fingerprint(attrs),
		Decision:    d,
		Time:        now,
	})
	return rec
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Info("gatekeep server listening", zap.String("addr", ln.Addr().String()))
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server and disconnects feed clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

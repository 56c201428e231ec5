// Package server exposes the HTTP interception middleware and the Gatekeep
// demo server.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	internalserver "github.com/SmitUplenchwar2687/Gatekeep/internal/server"
	"github.com/SmitUplenchwar2687/Gatekeep/pkg/limiter"
)

const (
	HeaderLimit      = internalserver.HeaderLimit
	HeaderRemaining  = internalserver.HeaderRemaining
	HeaderReset      = internalserver.HeaderReset
	HeaderRetryAfter = internalserver.HeaderRetryAfter
)

type (
	// Server is the Gatekeep HTTP server.
	Server = internalserver.Server
	// Options wires a Server.
	Options = internalserver.Options
	// DenyBody is the JSON body of a 429 response.
	DenyBody = internalserver.DenyBody
	// Event describes one intercepted request.
	Event = internalserver.Event
	// InterceptOption configures Middleware and GinMiddleware.
	InterceptOption = internalserver.InterceptOption
)

// New creates a Gatekeep server.
func New(opts Options) *Server {
	return internalserver.New(opts)
}

// Middleware guards next with policy p.
func Middleware(engine *limiter.Engine, p limiter.Policy, next http.Handler, opts ...InterceptOption) http.Handler {
	return internalserver.Middleware(engine, p, next, opts...)
}

// GinMiddleware is Middleware for gin routes.
func GinMiddleware(engine *limiter.Engine, p limiter.Policy, opts ...InterceptOption) gin.HandlerFunc {
	return internalserver.GinMiddleware(engine, p, opts...)
}

// SetHeaders writes the rate limit headers for d.
func SetHeaders(h http.Header, d limiter.Decision) {
	internalserver.SetHeaders(h, d)
}

// WithObserver calls fn after every intercepted request.
func WithObserver(fn func(Event)) InterceptOption {
	return internalserver.WithObserver(fn)
}

// WithSuccess decides from the response status whether the attempt counts.
func WithSuccess(fn func(status int) bool) InterceptOption {
	return internalserver.WithSuccess(fn)
}

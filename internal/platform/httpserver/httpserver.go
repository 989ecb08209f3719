// Package httpserver builds the API server with the timeouts every
// deployment of this service runs with.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server for the given handler. The write timeout is
// generous because assert and the lifecycle cascades can fan out over
// large ownership structures.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

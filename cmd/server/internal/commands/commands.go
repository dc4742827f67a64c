package commands

import (
	"net/http"
	"time"
)

type Globals struct {
	Debug   bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	// No write timeout: watch streams stay open for the life of a
	// supervisor's session, and idle watches are bounded by the router
	// sweep rather than the server.
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      0,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

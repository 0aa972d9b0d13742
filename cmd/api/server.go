package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"tradstry/internal/shared/config"
	"tradstry/internal/shared/middleware"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
)

// servers is the API listener plus the optional plain-HTTP redirector.
type servers struct {
	api      *http.Server
	redirect *http.Server
	certPath string
	keyPath  string
}

func newServers(handler http.Handler, cfg *config.Config) *servers {
	s := &servers{
		api: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
	}
	if cfg.TLS.Enabled {
		s.certPath, s.keyPath = cfg.TLS.CertPath, cfg.TLS.KeyPath
		if cfg.TLS.RedirectHTTP {
			s.redirect = &http.Server{
				Addr:              ":80",
				Handler:           redirectToHTTPS(cfg.Server.AllowedHosts),
				ReadHeaderTimeout: readHeaderTimeout,
				WriteTimeout:      writeTimeout,
				IdleTimeout:       idleTimeout,
			}
		}
	}
	return s
}

// start runs the listeners in the background. A listener that fails for
// any reason other than shutdown reports on the returned channel.
func (s *servers) start() <-chan error {
	errc := make(chan error, 2)

	serve := func(name string, fn func() error) {
		if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("%s server: %w", name, err)
		}
	}

	if s.redirect != nil {
		log.Println("HTTP redirect server starting on :80")
		go serve("redirect", s.redirect.ListenAndServe)
	}

	if s.certPath != "" {
		log.Printf("HTTPS server starting on %s", s.api.Addr)
		go serve("https", func() error { return s.api.ListenAndServeTLS(s.certPath, s.keyPath) })
	} else {
		log.Printf("HTTP server starting on %s", s.api.Addr)
		go serve("http", s.api.ListenAndServe)
	}
	return errc
}

func (s *servers) shutdown(ctx context.Context) {
	if s.redirect != nil {
		if err := s.redirect.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down HTTP redirect server: %v", err)
		}
	}
	if err := s.api.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}
}

// Stopper is a background component stopped during shutdown.
type Stopper interface {
	Stop()
}

type stopFunc func()

func (f stopFunc) Stop() { f() }

// GracefulShutdown stops taking requests, then each stopper in order, then
// drains the worker pool so in-flight syncs can finish.
func GracefulShutdown(s *servers, deps *Dependencies, stoppers []Stopper, timeout time.Duration) {
	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.shutdown(ctx)
	for _, st := range stoppers {
		st.Stop()
	}
	deps.WorkerPool.ShutdownWithTimeout(timeout)

	log.Println("Server stopped")
}

// redirectToHTTPS sends every request to the same path over HTTPS on the
// default port. Hosts outside the allow list get a 400.
func redirectToHTTPS(allowedHosts []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Header.Get("X-Forwarded-Host")
		if host == "" {
			host = r.Host
		}
		if !middleware.IsHostAllowed(host, allowedHosts) {
			http.Error(w, "Invalid host", http.StatusBadRequest)
			return
		}

		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
			host = "[" + host + "]"
		}
		http.Redirect(w, r, "https://"+host+r.RequestURI, http.StatusMovedPermanently)
	})
}

// Origin is a test HTTP server used as a proxy backend during manual and
// load testing. It serves cacheable and uncacheable content of any size.
//
// Usage:
//
//	go run ./scripts/origin -port 8081 -name origin-a
//
// Endpoints:
//
//	GET /static/{size}   cacheable body of size bytes (max-age from -max-age)
//	GET /dynamic         uncacheable JSON with a fresh id per request
//	GET /stream/{size}   cacheable body sent chunked, without Content-Length
//	GET /health          probe endpoint; returns 503 after POST /health/fail
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/angeloszaimis/edge-proxy/pkg/logger"
)

const maxBodySize = 64 << 20

type origin struct {
	name    string
	maxAge  time.Duration
	delay   time.Duration
	failing atomic.Bool
	served  atomic.Int64
	logger  *slog.Logger
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	name := flag.String("name", "", "name reported in responses (default: origin-<port>)")
	maxAge := flag.Duration("max-age", time.Minute, "max-age of cacheable responses")
	delay := flag.Duration("delay", 0, "delay before every response")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *name == "" {
		*name = fmt.Sprintf("origin-%d", *port)
	}

	o := &origin{
		name:   *name,
		maxAge: *maxAge,
		delay:  *delay,
		logger: logger.New(*level, false, "dev"),
	}

	addr := fmt.Sprintf(":%d", *port)
	o.logger.Info("Starting origin", slog.String("address", addr), slog.String("name", o.name))
	if err := http.ListenAndServe(addr, o.routes()); err != nil {
		o.logger.Error("Origin stopped", slog.Any("err", err))
	}
}

func (o *origin) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(o.observe)

	r.Get("/static/{size}", o.static(false))
	r.Get("/stream/{size}", o.static(true))
	r.Get("/dynamic", o.dynamic)
	r.Get("/health", o.health)
	r.Post("/health/fail", o.setFailing(true))
	r.Post("/health/recover", o.setFailing(false))
	return r
}

func (o *origin) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.delay > 0 {
			time.Sleep(o.delay)
		}
		w.Header().Set("X-Origin", o.name)
		next.ServeHTTP(w, r)

		if r.URL.Path != "/health" {
			o.logger.Debug("Served",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("request_id", r.Header.Get("X-Request-Id")),
				slog.Int64("served", o.served.Add(1)))
		}
	})
}

func (o *origin) static(chunked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		size, err := strconv.Atoi(chi.URLParam(r, "size"))
		if err != nil || size < 0 || size > maxBodySize {
			http.Error(w, "invalid size", http.StatusBadRequest)
			return
		}

		body := bytes.Repeat([]byte{'a' + byte(size%26)}, size)

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(o.maxAge.Seconds())))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		if !chunked {
			w.Header().Set("Content-Length", strconv.Itoa(size))
		}
		w.WriteHeader(http.StatusOK)

		if !chunked {
			_, _ = w.Write(body)
			return
		}

		flusher, _ := w.(http.Flusher)
		for len(body) > 0 {
			n := min(len(body), 4096)
			_, _ = w.Write(body[:n])
			body = body[n:]
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (o *origin) dynamic(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     uuid.NewString(),
		"origin": o.name,
		"time":   time.Now().UTC(),
	})
}

func (o *origin) health(w http.ResponseWriter, r *http.Request) {
	if o.failing.Load() {
		http.Error(w, "failing", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (o *origin) setFailing(failing bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o.failing.Store(failing)
		o.logger.Info("Health changed", slog.Bool("failing", failing))
		w.WriteHeader(http.StatusNoContent)
	}
}

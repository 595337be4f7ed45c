package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/angeloszaimis/edge-proxy/internal/cache"
	"github.com/angeloszaimis/edge-proxy/internal/metrics"
	"github.com/angeloszaimis/edge-proxy/internal/router"
)

// serveCacheable answers a CACHE decision: a stored entry when there is one,
// otherwise the backend response, which is stored on the way through.
func (h *ProxyHandler) serveCacheable(w *statusRecorder, r *http.Request, res router.MapResult, t *tuning) {
	if h.cache == nil || !t.policy.CanLookup(r) {
		h.emitLookup(metrics.CacheBypass)
		h.forward(w, r, res, t, "")
		return
	}

	key := t.policy.Key(r)
	if e, ok := h.cache.Lookup(key); ok {
		h.emitLookup(metrics.CacheHit)
		h.serveEntry(w, r, e)
		return
	}

	if t.coalesceWait > 0 && h.cache.InFlight(key) {
		ctx, cancel := context.WithTimeout(r.Context(), t.coalesceWait)
		e, ok := h.cache.Wait(ctx, key)
		cancel()

		if ok {
			h.emitLookup(metrics.CacheCoalesced)
			h.serveEntry(w, r, e)
			return
		}
	}

	h.emitLookup(metrics.CacheMiss)
	h.forward(w, r, res, t, key)
}

func (h *ProxyHandler) serveEntry(w http.ResponseWriter, r *http.Request, e *cache.Entry) {
	now := time.Now()

	header := w.Header()
	for name, values := range e.Header() {
		header[name] = values
	}
	header.Set(CachedHeader, "true")
	header.Set("Age", strconv.FormatInt(int64(e.Age(now)/time.Second), 10))

	modtime, _ := http.ParseTime(header.Get("Last-Modified"))

	h.logger.Debug("Served from cache",
		slog.String("request_id", r.Header.Get(RequestIDHeader)),
		slog.String("key", e.Key()),
		slog.Int64("size", e.Size()))

	http.ServeContent(w, r, "", modtime, e.Reader())
}

// populate starts storing res under key when the policy allows it. The body
// is copied into the cache while the proxy streams it to the client.
func (h *ProxyHandler) populate(res *http.Response, policy cache.Policy, key string) {
	meta, ok := policy.CanStore(res.Request, res, time.Now())
	if !ok {
		return
	}

	writer, err := h.cache.BeginPopulate(key, res.ContentLength, meta)
	switch {
	case errors.Is(err, cache.ErrPopulationInFlight):
		return
	case err != nil:
		h.logger.Debug("Response not cached",
			slog.String("key", key),
			slog.Int64("content_length", res.ContentLength),
			slog.String("reason", err.Error()))
		h.emitPopulate(metrics.CacheRejected)
		return
	}

	res.Body = &teeBody{ReadCloser: res.Body, handler: h, key: key, writer: writer}
}

// teeBody copies a response body into a cache.Writer. The entry is committed
// when the body is read to EOF and aborted when it is closed earlier.
type teeBody struct {
	io.ReadCloser
	handler  *ProxyHandler
	key      string
	writer   *cache.Writer
	finished bool
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)

	if n > 0 && !t.finished {
		if _, werr := t.writer.Write(p[:n]); werr != nil {
			t.finish(werr)
		}
	}
	if err == io.EOF && !t.finished {
		t.finish(t.writer.Commit())
	}
	return n, err
}

func (t *teeBody) Close() error {
	if !t.finished {
		t.writer.Abort()
		t.finish(cache.ErrAborted)
	}
	return t.ReadCloser.Close()
}

func (t *teeBody) finish(err error) {
	t.finished = true
	h := t.handler

	switch {
	case err == nil:
		h.emitPopulate(metrics.CacheStored)
		h.logger.Debug("Response cached", slog.String("key", t.key))
	case errors.Is(err, cache.ErrTooLarge), errors.Is(err, cache.ErrCacheFull):
		h.emitPopulate(metrics.CacheRejected)
		h.logger.Debug("Response not cached",
			slog.String("key", t.key),
			slog.String("reason", err.Error()))
	default:
		h.emitPopulate(metrics.CacheAborted)
		h.logger.Debug("Cache population aborted",
			slog.String("key", t.key),
			slog.String("reason", err.Error()))
	}
}

func (h *ProxyHandler) emitLookup(result string) {
	h.metrics.Emit(metrics.MetricEvent{Type: metrics.EventCacheLookup, Result: result})
}

func (h *ProxyHandler) emitPopulate(result string) {
	h.metrics.Emit(metrics.MetricEvent{Type: metrics.EventCachePopulate, Result: result})
}

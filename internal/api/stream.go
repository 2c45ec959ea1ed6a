package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/query"
)

// GET /api/stream[?sensor_id=1,2]
//
// Emits one "data: {...}" event per stream interval until the client
// disconnects. Each connection runs its own producer.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	entities, err := entitiesParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.New("streaming unsupported"))
		return
	}

	ip := extractIP(r.RemoteAddr)
	if !a.streams.Acquire(ip) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many open streams"})
		return
	}
	defer a.streams.Release(ip)
	defer a.cfg.Metrics.StreamOpened()()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := logging.WithContext(r.Context())
	logger.Debug("stream opened", "remote", ip)

	events := 0
	err = a.svc.Stream(r.Context(), a.cfg.StreamInterval, func(s query.Snapshot) error {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		events++
		return nil
	}, entities...)

	logger.Debug("stream closed", "remote", ip, "events", events, "error", err)
}

// =============================================================================
// Stream Limiter
// =============================================================================

// StreamLimiter caps concurrent live feeds per client IP.
//
// Flow:
//  1. Client opens a stream
//  2. Acquire(ip) - if false, reject with 429
//  3. Serve until disconnect
//  4. Release(ip)
type StreamLimiter struct {
	mu     sync.Mutex
	active map[string]int
	limit  int // max concurrent streams per IP, 0 = unlimited
}

// NewStreamLimiter creates a limiter allowing limit streams per IP.
func NewStreamLimiter(limit int) *StreamLimiter {
	return &StreamLimiter{
		active: make(map[string]int),
		limit:  limit,
	}
}

// Acquire reserves a stream slot for ip.
func (l *StreamLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit > 0 && l.active[ip] >= l.limit {
		return false
	}
	l.active[ip]++
	return true
}

// Release frees a slot reserved by Acquire.
func (l *StreamLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[ip] <= 1 {
		delete(l.active, ip)
		return
	}
	l.active[ip]--
}

// Count returns the open streams of ip (for testing/monitoring).
func (l *StreamLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[ip]
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/refractionPOINT/duologsync/config"
	"github.com/refractionPOINT/duologsync/duo"
)

type statsProvider interface {
	Stats() map[string]duo.EndpointStats
}

func startHealthChecks(port int, h http.Handler) (*http.Server, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	m := http.NewServeMux()
	m.Handle("/", h)
	srv := &http.Server{
		Handler:           m,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			logError("healthcheck: %v", err)
		}
	}()
	return srv, nil
}

// healthState answers the health check from the moment run starts, before
// the config is installed and before the producer exists.
type healthState struct {
	store *config.Store

	m     sync.RWMutex
	stats statsProvider
}

func (h *healthState) setStats(p statsProvider) {
	h.m.Lock()
	defer h.m.Unlock()
	h.stats = p
}

// status is "starting" until both the config and the producer are in
// place, then "degraded" while any endpoint's last poll failed.
func (h *healthState) status() (string, map[string]duo.EndpointStats) {
	h.m.RLock()
	p := h.stats
	h.m.RUnlock()

	if p == nil {
		return "starting", map[string]duo.EndpointStats{}
	}
	stats := p.Stats()
	if !h.store.IsSet() {
		return "starting", stats
	}
	for _, s := range stats {
		if s.LastError != "" {
			return "degraded", stats
		}
	}
	return "ok", stats
}

func (h *healthState) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status, stats := h.status()
		d, err := json.Marshal(map[string]interface{}{
			"status":    status,
			"endpoints": stats,
		})
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			logError("healthcheck format error: %v", err)
			return
		}
		if _, err := w.Write(d); err != nil {
			logError("healthcheck response error: %v", err)
		}
	}
}

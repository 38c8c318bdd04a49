// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/version"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/formation"
)

// serveMonitoring starts the monitoring API on addr and returns a function
// stopping it. The API serves prometheus metrics, formation state and
// runtime profiling while the run is in flight.
func serveMonitoring(ctx context.Context, addr string, registry *prometheus.Registry,
	tracker *formation.Tracker, topology string,
) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen monitoring address", z.Str("addr", addr))
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           newMonitoringRouter(registry, tracker, topology),
		ReadHeaderTimeout: time.Second,
	}

	log.Info(ctx, "Monitoring API started", z.Str("addr", listener.Addr().String()))

	go func() {
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "Monitoring API failed", err)
		}
	}()

	return func() {
		_ = server.Close()
	}, nil
}

func newMonitoringRouter(registry *prometheus.Registry, tracker *formation.Tracker, topology string) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.InstrumentMetricHandler(
		registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	))

	r.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, http.StatusOK, "ok")
	})
	r.HandleFunc("/readyz", newReadyHandler(tracker))
	r.HandleFunc("/status", newStatusHandler(tracker, topology))

	// Copied from net/http/pprof/pprof.go
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)

	return r
}

// newReadyHandler returns a http.HandlerFunc which returns 200 once every
// node of the run reports ready, 500 while the cluster is still forming.
func newReadyHandler(tracker *formation.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snapshot := tracker.Snapshot()

		for name, state := range snapshot {
			if state != formation.StateReady {
				writeResponse(w, http.StatusInternalServerError,
					"node "+name+" "+state.String())
				return
			}
		}

		writeResponse(w, http.StatusOK, "ok")
	}
}

type statusResponse struct {
	Version  string            `json:"version"`
	Topology string            `json:"topology"`
	Ready    bool              `json:"ready"`
	Nodes    map[string]string `json:"nodes"`
}

// newStatusHandler returns a http.HandlerFunc serving the formation state of
// every node as JSON.
func newStatusHandler(tracker *formation.Tracker, topology string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snapshot := tracker.Snapshot()

		resp := statusResponse{
			Version:  version.Version,
			Topology: topology,
			Ready:    len(snapshot) > 0,
			Nodes:    make(map[string]string, len(snapshot)),
		}

		for name, state := range snapshot {
			resp.Nodes[name] = state.String()

			if state != formation.StateReady {
				resp.Ready = false
			}
		}

		b, err := json.Marshal(resp)
		if err != nil {
			writeResponse(w, http.StatusInternalServerError, "marshal status")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeResponse(w, http.StatusOK, string(b))
	}
}

func writeResponse(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

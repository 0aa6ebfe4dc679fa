package opshttp

import (
	"net/http"

	"github.com/classpulse/classpulse/internal/probe"
)

// HealthzHandler returns 200 when the probe passes, 503 with the reason
// otherwise. A nil probe always passes.
func HealthzHandler(p probe.Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// ReadyzHandler returns 200 when the probe passes, 503 with the reason
// otherwise. A nil probe always passes.
func ReadyzHandler(p probe.Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

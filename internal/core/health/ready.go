// Package health serves liveness and readiness probes.
package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Readiness answers 503 until ready reports true. layers is optional and
// only used to enrich the body.
func Readiness(ready func() bool, layers func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Layers *int   `json:"layers,omitempty"`
		}
		ok := ready == nil || ready()
		out := resp{Status: "not_ready"}
		if ok {
			out.Status = "ready"
			if layers != nil {
				n := layers()
				out.Layers = &n
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/MrSnakeDoc/tinyman/internal/httpserver/deps"
)

const checkTimeout = time.Second

type componentStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type readyzResponse struct {
	Ready      bool                       `json:"ready"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// Readyz reports ready only when every optional backend answers.
func Readyz(d deps.Deps) http.HandlerFunc {
	names := make([]string, 0, len(d.Checks))
	for name := range d.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		resp := readyzResponse{Ready: true}
		if len(names) > 0 {
			resp.Components = make(map[string]componentStatus, len(names))
		}
		for _, name := range names {
			st := componentStatus{OK: true}
			if err := d.Checks[name](ctx); err != nil {
				st = componentStatus{OK: false, Error: err.Error()}
				resp.Ready = false
			}
			resp.Components[name] = st
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if !resp.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

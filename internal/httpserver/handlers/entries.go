package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/MrSnakeDoc/tinyman/internal/httpserver/deps"
)

type entryView struct {
	ID        int        `json:"id"`
	TargetURL string     `json:"target_url"`
	Domain    string     `json:"domain"`
	Status    string     `json:"status"`
	Failures  int        `json:"failures"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
}

type entriesResponse struct {
	PingIntervalSeconds float64     `json:"ping_interval_seconds"`
	PendingDeletions    []int       `json:"pending_deletions"`
	Entries             []entryView `json:"entries"`
}

// Entries serves a snapshot of the shared state.
func Entries(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Store.Snapshot()

		views := make([]entryView, 0, len(snap))
		for id, e := range snap {
			v := entryView{
				ID:        id,
				TargetURL: e.TargetURL,
				Domain:    e.Domain,
				Status:    e.Status.String(),
				Failures:  e.Failures,
			}
			if !e.CheckedAt.IsZero() {
				checked := e.CheckedAt.UTC()
				v.CheckedAt = &checked
			}
			views = append(views, v)
		}
		sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

		pending := d.Store.PendingDeletions()
		if pending == nil {
			pending = []int{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(entriesResponse{
			PingIntervalSeconds: d.Store.PingInterval().Seconds(),
			PendingDeletions:    pending,
			Entries:             views,
		})
	}
}

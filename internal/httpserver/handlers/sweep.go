package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/tinyman/internal/httpserver/deps"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
)

// Sweep asks every monitor for an immediate probe.
func Sweep(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Store.TriggerSweep()
		d.Logger.Info("sweep triggered via status api",
			logger.String("remote_ip", r.RemoteAddr))

		w.WriteHeader(http.StatusAccepted)
		if _, err := w.Write([]byte("sweep triggered\n")); err != nil {
			d.Logger.Debug("failed to write response", logger.Error(err))
		}
	}
}

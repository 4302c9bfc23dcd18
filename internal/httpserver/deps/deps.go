package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/tinyman/internal/logger"
	"github.com/MrSnakeDoc/tinyman/internal/state"
)

// Check reports whether an optional backend is usable.
type Check func(ctx context.Context) error

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AllowedCIDRS []string         // IPs allowed to reach the status API
	TrustProxy   bool             // true if running behind a trusted reverse proxy
	Store        *state.Store     // shared state read by the API; the manager is never exposed
	Checks       map[string]Check // readiness checks by component name (ex: "redis")
	SweepLimit   float64          // POST /api/sweep requests per second per client
}

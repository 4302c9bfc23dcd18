package version

import (
	"runtime"
	"time"
)

const Name = "tinyman"

var (
	Version   = "dev"                           // ex: v1.0.0
	Commit    = "none"                          // ex: abcd123
	BuildDate = time.Now().Format(time.RFC3339) // ex: 2025-08-11T18:42:00Z
	GoVersion = runtime.Version()               // go version
)

// UserAgent is the fixed client identifier sent with every remote call.
func UserAgent() string {
	return Name + "/" + Version
}

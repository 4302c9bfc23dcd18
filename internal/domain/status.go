package domain

// Status is the last observed health of a resource target.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusUp          Status = "up"
	StatusRedirected  Status = "redirected"
	StatusUnreachable Status = "unreachable"
)

func (s Status) String() string {
	if s == "" {
		return string(StatusUnknown)
	}
	return string(s)
}

package status

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ServiceStatus is the last reconciled view of the managed database process.
type ServiceStatus int32

const (
	// New means no probe has run and no operation has been requested yet.
	New ServiceStatus = iota
	// Building is set while a prepare/install operation is underway.
	Building
	// Running is confirmed by the active database probe.
	Running
	// Shutdown is confirmed by the down database probe.
	Shutdown
	// Restarting is set while a restart operation is underway.
	Restarting
	// Failed is set when a probe could not execute or an operation aborted.
	Failed
	// Unknown is the result of an inconclusive probe.
	Unknown
)

var names = [...]string{
	New:        "new",
	Building:   "building",
	Running:    "running",
	Shutdown:   "shutdown",
	Restarting: "restarting",
	Failed:     "failed",
	Unknown:    "unknown",
}

func (s ServiceStatus) String() string {
	if s < 0 || int(s) >= len(names) {
		return "invalid(" + fmt.Sprint(int32(s)) + ")"
	}
	return names[s]
}

// IsTransient reports whether the status is an in-progress marker set by an
// operation rather than the result of a probe.
func (s ServiceStatus) IsTransient() bool {
	return s == Building || s == Restarting
}

// All returns every valid status in declaration order.
func All() []ServiceStatus {
	out := make([]ServiceStatus, 0, len(names))
	for i := range names {
		out = append(out, ServiceStatus(i))
	}
	return out
}

// Parse converts a status name (case-insensitive) back to a ServiceStatus.
func Parse(v string) (ServiceStatus, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for i, n := range names {
		if n == v {
			return ServiceStatus(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown service status %q", v)
}

func (s ServiceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ServiceStatus) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	p, err := Parse(v)
	if err != nil {
		return err
	}
	*s = p
	return nil
}

package mqtt

import (
	"time"

	"github.com/nugget/sidekick/internal/buildinfo"
)

// Status is the retained document published to <base>/status on connect
// and at every status interval.
type Status struct {
	InstanceID string    `json:"instance_id"`
	Version    string    `json:"version"`
	Uptime     string    `json:"uptime"`
	Today      Counts    `json:"today"`
	Updated    time.Time `json:"updated"`
}

// NewStatus builds a status document for this process.
func NewStatus(instanceID string, today Counts) Status {
	return Status{
		InstanceID: instanceID,
		Version:    buildinfo.Version,
		Uptime:     buildinfo.Uptime().String(),
		Today:      today,
		Updated:    time.Now().UTC(),
	}
}

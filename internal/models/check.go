package models

import "time"

// HealthCheckEvent is one accepted liveness check.
type HealthCheckEvent struct {
	ID       int64     `json:"checkId"`
	DateTime time.Time `json:"datetime"`
}

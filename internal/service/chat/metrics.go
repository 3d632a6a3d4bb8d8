package chat

import "sync/atomic"

// Metrics counts turn outcomes since process start
type Metrics struct {
	turnsStarted               atomic.Int64
	turnsCompleted             atomic.Int64
	turnsFailed                atomic.Int64
	swallowedPersistenceErrors atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	TurnsStarted               int64 `json:"turns_started"`
	TurnsCompleted             int64 `json:"turns_completed"`
	TurnsFailed                int64 `json:"turns_failed"`
	SwallowedPersistenceErrors int64 `json:"swallowed_persistence_errors"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TurnsStarted:               m.turnsStarted.Load(),
		TurnsCompleted:             m.turnsCompleted.Load(),
		TurnsFailed:                m.turnsFailed.Load(),
		SwallowedPersistenceErrors: m.swallowedPersistenceErrors.Load(),
	}
}

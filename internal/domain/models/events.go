package models

import "time"

type EventType string

const (
	EventSignalCreated    EventType = "signal_created"
	EventSignalTerminated EventType = "signal_terminated"
	EventTargetZone       EventType = "target_zone"
	EventAlarm            EventType = "alarm"
	EventReport           EventType = "report"
)

type AlarmLevel string

const (
	AlarmWarning  AlarmLevel = "warning"
	AlarmCritical AlarmLevel = "critical"
)

// Event is a fire-and-forget notification. Signal is a copy taken at
// emission time and is never mutated afterwards.
type Event struct {
	ID      string       `json:"id"`
	Type    EventType    `json:"type"`
	Symbol  string       `json:"symbol,omitempty"`
	Time    time.Time    `json:"time"`
	Signal  *Signal      `json:"signal,omitempty"`
	Level   AlarmLevel   `json:"level,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	Message string       `json:"message,omitempty"`
	Report  *StatsReport `json:"report,omitempty"`
}

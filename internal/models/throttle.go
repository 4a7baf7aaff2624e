package models

import "time"

// ThrottleState — персистентное состояние кулдауна по символу.
type ThrottleState struct {
	Symbol        string
	LastAlertAt   time.Time
	PreviousPrice float64
}

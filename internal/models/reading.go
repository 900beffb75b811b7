package models

import "time"

// Reading is one persisted sensor sample.
type Reading struct {
	ID             int64     `json:"id,omitempty"`
	Temperature    float64   `json:"temperature"`     // °C
	Humidity       float64   `json:"humidity"`        // %
	Distance       float64   `json:"distance"`        // cm
	ManualOverride bool      `json:"manual_override"` // device in manual mode
	ActuatorOutput float64   `json:"pid_output"`      // fan PWM, 0..255
	Position       int       `json:"encoder"`         // rotary encoder position
	Timestamp      time.Time `json:"timestamp"`
}

// LiveSample is a parsed reading held in the live window, stamped with its
// arrival time.
type LiveSample struct {
	Timestamp time.Time `json:"timestamp"`
	Reading   Reading   `json:"data"`
	Raw       string    `json:"raw"`
}

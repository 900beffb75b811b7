package models

// Status is the connection state of the telemetry transport.
type Status string

const (
	StatusDisconnected Status = "Disconnected"
	StatusConnected    Status = "Connected"
	StatusError        Status = "Error"
)

// PipelineStatus is a point-in-time view of the live pipeline.
type PipelineStatus struct {
	Status    Status `json:"status"`
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
	Window    int    `json:"window"`
}

package models

// Command names understood by the device firmware.
const (
	CommandSetpoint    = "SETPOINT"
	CommandTolerance   = "TOLERANCE"
	CommandHysteresis  = "HYSTERESIS"
	CommandFanMinSpeed = "FAN_MIN_SPEED"
	CommandDistance    = "DISTANCE"
	CommandPID         = "PID"
	CommandAlarm       = "ALARM"
	CommandManual      = "MANUAL"
)

// CommandNames lists the accepted command names in display order.
var CommandNames = []string{
	CommandSetpoint,
	CommandTolerance,
	CommandHysteresis,
	CommandFanMinSpeed,
	CommandDistance,
	CommandPID,
	CommandAlarm,
	CommandManual,
}

// IsCommand reports whether name is a known command.
func IsCommand(name string) bool {
	for _, n := range CommandNames {
		if n == name {
			return true
		}
	}
	return false
}

// Command is a single operator instruction for the device.
type Command struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Payload renders the command in the device wire format NAME=value.
func (c Command) Payload() string {
	return c.Name + "=" + c.Value
}

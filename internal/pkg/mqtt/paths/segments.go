package paths

// Topic segments of the VanDash MQTT contract.
// Every topic is built as {root}/{segment}/{vehicleID}.

// Local bus: OBD bridge -> Agent
const (
	// Obd carries raw OBD samples published by the adapter bridge.
	// Payload: { "RPM": 812, "SPEED": 0, "COOLANT_TEMP": 74, ... }
	// Pattern: {root}/obd/{vehicleID}
	Obd = "obd"
)

// Downstream: Fleet -> Agent
const (
	// Command is the topic segment for remote operator commands.
	// Payload: { "id": "...", "command": "reset", "subsystem": "obd" }
	// Pattern: {root}/command/{vehicleID}
	Command = "command"
)

// Upstream: Agent -> Fleet
const (
	// Online is the topic segment for reporting agent online/offline status.
	// It is retained and doubles as the last will.
	// Pattern: {root}/online/{vehicleID}
	Online = "online"

	// Health carries the supervisor snapshot.
	// Pattern: {root}/health/{vehicleID}
	Health = "health"

	// CommandAck is the topic segment for command execution results.
	// Pattern: {root}/command/ack/{vehicleID}
	CommandAck = "command/ack"
)

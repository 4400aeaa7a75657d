package events

// EventType identifies a class of event on the bus.
type EventType string

const (
	// EventServerOnline fires when a game server completes the heartbeat
	// handshake and becomes visible to queries.
	EventServerOnline EventType = "server_online"

	// EventServerOffline fires when a game server is evicted or reports
	// shutdown.
	EventServerOffline EventType = "server_offline"

	// EventClientDisconnect fires exactly once per query session, when the
	// session disposes.
	EventClientDisconnect EventType = "client_disconnect"

	// EventShutdown signals process shutdown.
	EventShutdown EventType = "shutdown"
)

// Event is a single bus message.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ServerPayload accompanies server online/offline events.
type ServerPayload struct {
	IP        string `json:"ip"`
	QueryPort uint16 `json:"query_port"`
	GamePort  uint16 `json:"game_port"`
	Hostname  string `json:"hostname"`
}

// SessionPayload accompanies client disconnect events.
type SessionPayload struct {
	ConnectionID uint64 `json:"connection_id"`
	RemoteAddr   string `json:"remote_addr"`
}

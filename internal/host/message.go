package host

// Message crosses a realm boundary. Page-bound messages carry Data (the
// serialized payload, as a structured clone would); isolated-realm messages
// carry Payload directly.
type Message struct {
	Cmd     string
	Data    []byte
	Payload any
}

// Endpoint receives messages for one realm. A nil error is the receiver's
// acknowledgement.
type Endpoint interface {
	Deliver(msg Message) error
}

// Peer is what a realm endpoint may call back into on the isolated side.
type Peer interface {
	// SetStatus writes a bridge identity status for a script id.
	SetStatus(id string, status int)
	// Status reads a bridge identity status.
	Status(id string) int
	// Receive handles a message sent from the realm back to the isolated side.
	Receive(msg Message)
}

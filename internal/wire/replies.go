package wire

type ContextCleanedUp struct{}

func (*ContextCleanedUp) MessageType() string { return TypeContextCleanedUp }

// PromisedResult answers a Promised request. It is sent at most once per
// promised handle. Error is set when the command failed.
type PromisedResult struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

func (*PromisedResult) MessageType() string { return TypePromisedResult }

// Broadcast is a bridge-wide notification not tied to any view.
type Broadcast struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

func (*Broadcast) MessageType() string { return TypeBroadcast }

type Pong struct{}

func (*Pong) MessageType() string { return TypePong }

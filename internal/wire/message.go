package wire

import (
	"encoding/json"
	"fmt"
)

// Message types.
const (
	TypeUpdate           = "update"
	TypeContextCleanedUp = "contextCleanedUp"
	TypePromisedResult   = "promisedResult"
	TypeBroadcast        = "broadcast"
	TypePong             = "pong"

	TypePing                    = "ping"
	TypePromised                = "promised"
	TypeSeekProxy               = "seekProxy"
	TypeRefreshView             = "refreshView"
	TypeGrowView                = "growView"
	TypeCleanupContext          = "cleanupContext"
	TypeViewAccounts            = "viewAccounts"
	TypeViewFolders             = "viewFolders"
	TypeViewFolderConversations = "viewFolderConversations"
	TypeViewCalendarEvents      = "viewCalendarEvents"
	TypeViewRawList             = "viewRawList"
)

// Body is the type-specific payload of a message.
type Body interface {
	MessageType() string
}

// Message is one unit of traffic across the bridge boundary.
type Message struct {
	Type   string
	Handle string
	Body   Body
}

// New builds a message addressed to handle, deriving the type from body.
func New(handle string, body Body) Message {
	return Message{Type: body.MessageType(), Handle: handle, Body: body}
}

type envelope struct {
	Type   string          `json:"type"`
	Handle string          `json:"handle,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the message envelope.
func (m Message) MarshalJSON() ([]byte, error) {
	env := envelope{Type: m.Type, Handle: m.Handle}
	if m.Body != nil {
		data, err := json.Marshal(m.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", m.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes an envelope and its body. Unknown types decode into
// an Unknown body so the receiver can report them as unroutable.
func (m *Message) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	if env.Type == "" {
		return fmt.Errorf("message without type")
	}

	m.Type = env.Type
	m.Handle = env.Handle

	factory, ok := bodyFactories[env.Type]
	if !ok {
		m.Body = &Unknown{Type: env.Type, Data: env.Data}
		return nil
	}

	body := factory()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, body); err != nil {
			return fmt.Errorf("unmarshal %s body: %w", env.Type, err)
		}
	}
	m.Body = body
	return nil
}

var bodyFactories = map[string]func() Body{
	TypeUpdate:                  func() Body { return &Update{} },
	TypeContextCleanedUp:        func() Body { return &ContextCleanedUp{} },
	TypePromisedResult:          func() Body { return &PromisedResult{} },
	TypeBroadcast:               func() Body { return &Broadcast{} },
	TypePong:                    func() Body { return &Pong{} },
	TypePing:                    func() Body { return &Ping{} },
	TypePromised:                func() Body { return &Promised{} },
	TypeSeekProxy:               func() Body { return &SeekProxy{} },
	TypeRefreshView:             func() Body { return &RefreshView{} },
	TypeGrowView:                func() Body { return &GrowView{} },
	TypeCleanupContext:          func() Body { return &CleanupContext{} },
	TypeViewAccounts:            func() Body { return &ViewAccounts{} },
	TypeViewFolders:             func() Body { return &ViewFolders{} },
	TypeViewFolderConversations: func() Body { return &ViewFolderConversations{} },
	TypeViewCalendarEvents:      func() Body { return &ViewCalendarEvents{} },
	TypeViewRawList:             func() Body { return &ViewRawList{} },
}

// Encode serializes a message.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a message.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Clone round-trips m through the JSON encoding so that the result shares no
// memory with the original.
func Clone(m Message) (Message, error) {
	b, err := Encode(m)
	if err != nil {
		return Message{}, err
	}
	return Decode(b)
}

// Unknown carries the raw body of a message type this package does not know.
type Unknown struct {
	Type string
	Data json.RawMessage
}

func (u *Unknown) MessageType() string { return u.Type }

// MarshalJSON re-emits the original body.
func (u *Unknown) MarshalJSON() ([]byte, error) {
	if len(u.Data) == 0 {
		return []byte("null"), nil
	}
	return u.Data, nil
}

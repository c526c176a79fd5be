package wire

import "encoding/json"

// ChangeType is the kind of an entire-list change entry.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeChange ChangeType = "change"
	ChangeRemove ChangeType = "remove"
)

// Overlays is transient, derived per-item data keyed by provider name.
//
// A nil Overlays on a change means "unchanged since the last flush"; an
// empty, non-nil map means "no overlays any more". The field is therefore
// never omitted from the encoding.
type Overlays map[string]any

// Change is one entry of an entire-list update. ID is set on add entries.
type Change struct {
	Type     ChangeType      `json:"type"`
	ID       string          `json:"id,omitempty"`
	Index    int             `json:"index"`
	State    json.RawMessage `json:"state,omitempty"`
	Overlays Overlays        `json:"overlays"`
}

// Value is the per-id payload of a windowed update. A nil State means the
// client already holds the current state.
type Value struct {
	State    json.RawMessage `json:"state,omitempty"`
	Overlays Overlays        `json:"overlays"`
}

// Event is a named signal forwarded from a TOC to the client view.
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

// Update is the flush payload of a view proxy. Entire-list proxies fill
// Changes; windowed proxies fill the positional fields.
type Update struct {
	Changes []Change `json:"changes,omitempty"`

	IDs          []string         `json:"ids,omitempty"`
	Values       map[string]Value `json:"values,omitempty"`
	Offset       int              `json:"offset"`
	HeightOffset int              `json:"heightOffset"`
	TotalCount   int              `json:"totalCount"`
	TotalHeight  int              `json:"totalHeight"`
	TOCMeta      map[string]any   `json:"tocMeta,omitempty"`
	Events       []Event          `json:"events,omitempty"`

	CoherentSnapshot bool `json:"coherentSnapshot"`
}

func (*Update) MessageType() string { return TypeUpdate }

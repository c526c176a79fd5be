package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario drives one bridge session and its client from a YAML script.
// Steps run in order; after each step the session is settled, so every
// message a step causes is in the trace before the next step starts.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// FlushDelay overrides the batch manager's flush delay (e.g. "5s").
	FlushDelay string `yaml:"flush_delay,omitempty"`

	// Lists seed the record store before the session starts.
	Lists []SeedList `yaml:"lists,omitempty"`

	// Steps is the script.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace, store and views.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, view_items
	Assertions []Assertion `yaml:"assertions"`
}

// SeedList is the initial content of one stored list.
type SeedList struct {
	Namespace string       `yaml:"namespace"`
	Name      string       `yaml:"name"`
	Records   []RecordSpec `yaml:"records"`
}

// RecordSpec is a record as written in a scenario.
type RecordSpec struct {
	ID     string `yaml:"id"`
	Key    string `yaml:"key"`
	Height int    `yaml:"height,omitempty"`
	// Data defaults to {"id": ID}.
	Data map[string]interface{} `yaml:"data,omitempty"`
}

// Step is one scripted action. Exactly one field must be set.
type Step struct {
	Open      *OpenStep      `yaml:"open,omitempty"`
	Seek      *SeekStep      `yaml:"seek,omitempty"`
	Refresh   *ViewRef       `yaml:"refresh,omitempty"`
	Grow      *ViewRef       `yaml:"grow,omitempty"`
	Release   *ViewRef       `yaml:"release,omitempty"`
	Coherent  *CoherentStep  `yaml:"coherent,omitempty"`
	Send      *SendStep      `yaml:"send,omitempty"`
	Put       *PutStep       `yaml:"put,omitempty"`
	Delete    *DeleteStep    `yaml:"delete,omitempty"`
	Meta      *MetaStep      `yaml:"meta,omitempty"`
	Event     *EventStep     `yaml:"event,omitempty"`
	Broadcast *BroadcastStep `yaml:"broadcast,omitempty"`
	Advance   string         `yaml:"advance,omitempty"`
	DropCache bool           `yaml:"drop_cache,omitempty"`
}

// OpenStep opens a client view.
type OpenStep struct {
	// View is one of accounts, folders, conversations, events, raw.
	View string `yaml:"view"`
	// ID is the account, folder or calendar id.
	ID string `yaml:"id,omitempty"`
	// Namespace and Name address a raw list.
	Namespace string `yaml:"namespace,omitempty"`
	Name      string `yaml:"name,omitempty"`
	// As names the view in later steps. Defaults to View.
	As string `yaml:"as,omitempty"`
}

// Alias returns the name later steps use for the view.
func (o *OpenStep) Alias() string {
	if o.As != "" {
		return o.As
	}
	return o.View
}

// ViewRef names an open view.
type ViewRef struct {
	View string `yaml:"view"`
}

// SeekStep re-windows a windowed view. Field use follows the wire
// seekProxy command for the chosen mode.
type SeekStep struct {
	View string `yaml:"view"`
	// Mode is one of top, bottom, item, index, coordinates.
	Mode string `yaml:"mode"`

	Visible int `yaml:"visible,omitempty"`
	Buffer  int `yaml:"buffer,omitempty"`

	Item         string `yaml:"item,omitempty"`
	Index        int    `yaml:"index,omitempty"`
	BufferAbove  int    `yaml:"buffer_above,omitempty"`
	VisibleAbove int    `yaml:"visible_above,omitempty"`
	VisibleBelow int    `yaml:"visible_below,omitempty"`
	BufferBelow  int    `yaml:"buffer_below,omitempty"`

	Offset int `yaml:"offset,omitempty"`
	Before int `yaml:"before,omitempty"`
	After  int `yaml:"after,omitempty"`
}

// CoherentStep toggles a windowed view's coherent mode.
type CoherentStep struct {
	View    string `yaml:"view"`
	Enabled bool   `yaml:"enabled"`
}

// SendStep sends a raw wire message from the client side, bypassing the
// client API.
type SendStep struct {
	Type   string                 `yaml:"type"`
	Handle string                 `yaml:"handle,omitempty"`
	Data   map[string]interface{} `yaml:"data,omitempty"`
}

// PutStep writes a record to the store.
type PutStep struct {
	Namespace string     `yaml:"namespace"`
	List      string     `yaml:"list"`
	Record    RecordSpec `yaml:"record"`
}

// DeleteStep deletes a record from the store.
type DeleteStep struct {
	Namespace string `yaml:"namespace"`
	List      string `yaml:"list"`
	ID        string `yaml:"id"`
}

// MetaStep applies meta changes to a live list.
type MetaStep struct {
	Namespace string                 `yaml:"namespace"`
	List      string                 `yaml:"list"`
	Changes   map[string]interface{} `yaml:"changes"`
}

// EventStep broadcasts a named event on a live list.
type EventStep struct {
	Namespace string      `yaml:"namespace"`
	List      string      `yaml:"list"`
	Name      string      `yaml:"name"`
	Data      interface{} `yaml:"data,omitempty"`
}

// BroadcastStep sends a bridge-wide broadcast.
type BroadcastStep struct {
	Name string      `yaml:"name"`
	Data interface{} `yaml:"data,omitempty"`
}

// Kind returns the name of the step's single set field, or "" if the step
// sets none or more than one.
func (s *Step) Kind() string {
	var kinds []string
	add := func(set bool, name string) {
		if set {
			kinds = append(kinds, name)
		}
	}
	add(s.Open != nil, "open")
	add(s.Seek != nil, "seek")
	add(s.Refresh != nil, "refresh")
	add(s.Grow != nil, "grow")
	add(s.Release != nil, "release")
	add(s.Coherent != nil, "coherent")
	add(s.Send != nil, "send")
	add(s.Put != nil, "put")
	add(s.Delete != nil, "delete")
	add(s.Meta != nil, "meta")
	add(s.Event != nil, "event")
	add(s.Broadcast != nil, "broadcast")
	add(s.Advance != "", "advance")
	add(s.DropCache, "drop_cache")
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Assertion validates trace, store or view state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a message with matching type, handle and data appears
	// - "trace_order": messages appear in the given order
	// - "trace_count": a message type appears exactly Count times
	// - "final_state": a store table row has the expected values
	// - "view_items": a client view holds exactly the given ids
	Type string `yaml:"type"`

	// Message is the wire message type (trace_contains, trace_count).
	Message string `yaml:"message,omitempty"`

	// Dir restricts trace assertions to "up" (client to bridge) or "down".
	Dir string `yaml:"dir,omitempty"`

	// Handle restricts trace assertions to one handle.
	Handle string `yaml:"handle,omitempty"`

	// Data is a subset of the message data (trace_contains).
	Data map[string]interface{} `yaml:"data,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Messages is the expected message order (trace_order).
	Messages []string `yaml:"messages,omitempty"`

	// Table, Where and Expect drive final_state.
	Table  string                 `yaml:"table,omitempty"`
	Where  map[string]interface{} `yaml:"where,omitempty"`
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// View, IDs, Offset and TotalCount drive view_items. Placeholders of a
	// windowed view are written as "".
	View       string   `yaml:"view,omitempty"`
	IDs        []string `yaml:"ids,omitempty"`
	Offset     *int     `yaml:"offset,omitempty"`
	TotalCount *int     `yaml:"total_count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertViewItems     = "view_items"
)

// View kinds accepted by open steps.
const (
	ViewAccounts      = "accounts"
	ViewFolders       = "folders"
	ViewConversations = "conversations"
	ViewEvents        = "events"
	ViewRaw           = "raw"
)

// Seek modes accepted by seek steps.
const (
	SeekTop         = "top"
	SeekBottom      = "bottom"
	SeekItem        = "item"
	SeekIndex       = "index"
	SeekCoordinates = "coordinates"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.FlushDelay != "" {
		if d, err := time.ParseDuration(s.FlushDelay); err != nil || d <= 0 {
			return fmt.Errorf("flush_delay %q must be a positive duration", s.FlushDelay)
		}
	}

	for i, l := range s.Lists {
		if l.Namespace == "" {
			return fmt.Errorf("lists[%d]: namespace is required", i)
		}
		for j, r := range l.Records {
			if r.ID == "" {
				return fmt.Errorf("lists[%d].records[%d]: id is required", i, j)
			}
		}
	}

	// Views must be opened before later steps refer to them.
	opened := make(map[string]string)
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], opened); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step, opened map[string]string) error {
	kind := step.Kind()
	if kind == "" {
		return fmt.Errorf("steps[%d]: exactly one action is required", i)
	}

	needView := func(ref string, windowed bool) error {
		view, ok := opened[ref]
		if !ok {
			return fmt.Errorf("steps[%d]: %s of unknown view %q", i, kind, ref)
		}
		if windowed && view != ViewConversations && view != ViewEvents {
			return fmt.Errorf("steps[%d]: %s needs a windowed view, %q is %s", i, kind, ref, view)
		}
		return nil
	}

	switch kind {
	case "open":
		switch step.Open.View {
		case ViewAccounts:
		case ViewFolders, ViewConversations, ViewEvents:
			if step.Open.ID == "" {
				return fmt.Errorf("steps[%d]: open %s requires id", i, step.Open.View)
			}
		case ViewRaw:
			if step.Open.Namespace == "" {
				return fmt.Errorf("steps[%d]: open raw requires namespace", i)
			}
		default:
			return fmt.Errorf("steps[%d]: unknown view %q", i, step.Open.View)
		}
		alias := step.Open.Alias()
		if _, dup := opened[alias]; dup {
			return fmt.Errorf("steps[%d]: view %q is already open", i, alias)
		}
		opened[alias] = step.Open.View
	case "seek":
		switch step.Seek.Mode {
		case SeekTop, SeekBottom, SeekIndex, SeekCoordinates:
		case SeekItem:
			if step.Seek.Item == "" {
				return fmt.Errorf("steps[%d]: seek item requires item", i)
			}
		default:
			return fmt.Errorf("steps[%d]: unknown seek mode %q", i, step.Seek.Mode)
		}
		return needView(step.Seek.View, true)
	case "refresh":
		return needView(step.Refresh.View, false)
	case "grow":
		return needView(step.Grow.View, true)
	case "coherent":
		return needView(step.Coherent.View, true)
	case "release":
		if err := needView(step.Release.View, false); err != nil {
			return err
		}
	case "send":
		if step.Send.Type == "" {
			return fmt.Errorf("steps[%d]: send requires type", i)
		}
	case "put":
		if step.Put.Namespace == "" || step.Put.Record.ID == "" {
			return fmt.Errorf("steps[%d]: put requires namespace and record.id", i)
		}
	case "delete":
		if step.Delete.Namespace == "" || step.Delete.ID == "" {
			return fmt.Errorf("steps[%d]: delete requires namespace and id", i)
		}
	case "meta":
		if step.Meta.Namespace == "" || len(step.Meta.Changes) == 0 {
			return fmt.Errorf("steps[%d]: meta requires namespace and changes", i)
		}
	case "event":
		if step.Event.Namespace == "" || step.Event.Name == "" {
			return fmt.Errorf("steps[%d]: event requires namespace and name", i)
		}
	case "broadcast":
		if step.Broadcast.Name == "" {
			return fmt.Errorf("steps[%d]: broadcast requires name", i)
		}
	case "advance":
		if d, err := time.ParseDuration(step.Advance); err != nil || d < 0 {
			return fmt.Errorf("steps[%d]: advance %q must be a non-negative duration", i, step.Advance)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Dir != "" && a.Dir != DirUp && a.Dir != DirDown {
		return fmt.Errorf("assertions[%d]: dir must be %q or %q", index, DirUp, DirDown)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Messages) == 0 {
			return fmt.Errorf("assertions[%d]: messages list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertViewItems:
		if a.View == "" {
			return fmt.Errorf("assertions[%d]: view is required for view_items", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

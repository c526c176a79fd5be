package harness

// Trace directions.
const (
	// DirUp is a message from the client to the bridge.
	DirUp = "up"
	// DirDown is a message from the bridge to the client.
	DirDown = "down"
)

// TraceEvent is one wire message as it crossed the transport. Data holds
// the decoded JSON payload.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Dir    string `json:"dir"`
	Type   string `json:"type"`
	Handle string `json:"handle,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ViewState is the client-side state of a view at the end of a run.
type ViewState struct {
	Handle string `json:"handle"`
	// IDs lists the view's items in order; windowed placeholders are "".
	IDs        []string `json:"ids"`
	Offset     int      `json:"offset"`
	TotalCount int      `json:"total_count"`
	Released   bool     `json:"released"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every message in both directions, in send order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Views holds the final client state of each opened view by alias.
	Views map[string]ViewState `json:"views,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Views:  make(map[string]ViewState),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace appends a trace event with the next sequence number.
func (r *Result) addTrace(dir, msgType, handle string, data any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    len(r.Trace) + 1,
		Dir:    dir,
		Type:   msgType,
		Handle: handle,
		Data:   data,
	})
}

package wire

// SeekMode selects how a windowed proxy chooses its window.
type SeekMode string

const (
	SeekTop         SeekMode = "top"
	SeekBottom      SeekMode = "bottom"
	SeekFocus       SeekMode = "focus"
	SeekFocusIndex  SeekMode = "focusIndex"
	SeekCoordinates SeekMode = "coordinates"
)

// SeekProxy asks a windowed proxy to re-window. Which fields matter depends
// on Mode:
//   - top, bottom: VisibleDesired, BufferDesired
//   - focus: FocusKey plus the four above/below counts
//   - focusIndex: Index plus the four above/below counts
//   - coordinates: Offset, Before, Visible, After (height units)
type SeekProxy struct {
	Mode SeekMode `json:"mode"`

	VisibleDesired int `json:"visibleDesired,omitempty"`
	BufferDesired  int `json:"bufferDesired,omitempty"`

	FocusKey     string `json:"focusKey,omitempty"`
	Index        int    `json:"index,omitempty"`
	BufferAbove  int    `json:"bufferAbove,omitempty"`
	VisibleAbove int    `json:"visibleAbove,omitempty"`
	VisibleBelow int    `json:"visibleBelow,omitempty"`
	BufferBelow  int    `json:"bufferBelow,omitempty"`

	Offset  int `json:"offset,omitempty"`
	Before  int `json:"before,omitempty"`
	Visible int `json:"visible,omitempty"`
	After   int `json:"after,omitempty"`
}

func (*SeekProxy) MessageType() string { return TypeSeekProxy }

type RefreshView struct{}

func (*RefreshView) MessageType() string { return TypeRefreshView }

type GrowView struct{}

func (*GrowView) MessageType() string { return TypeGrowView }

type CleanupContext struct{}

func (*CleanupContext) MessageType() string { return TypeCleanupContext }

type Ping struct{}

func (*Ping) MessageType() string { return TypePing }

type ViewAccounts struct{}

func (*ViewAccounts) MessageType() string { return TypeViewAccounts }

type ViewFolders struct {
	AccountID string `json:"accountId"`
}

func (*ViewFolders) MessageType() string { return TypeViewFolders }

type ViewFolderConversations struct {
	FolderID string `json:"folderId"`
}

func (*ViewFolderConversations) MessageType() string { return TypeViewFolderConversations }

type ViewCalendarEvents struct {
	CalendarID string `json:"calendarId"`
}

func (*ViewCalendarEvents) MessageType() string { return TypeViewCalendarEvents }

type ViewRawList struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (*ViewRawList) MessageType() string { return TypeViewRawList }

// Promised wraps a command whose completion the sender wants to observe.
// The envelope handle of the promised message names the reply, while the
// wrapped message keeps its own handle for command ordering.
type Promised struct {
	Wrapped Message `json:"wrapped"`
}

func (*Promised) MessageType() string { return TypePromised }

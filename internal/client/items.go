package client

import (
	"encoding/json"
	"time"
)

// RawItem is an item whose state is kept as a generic JSON value.
type RawItem struct {
	ItemBase
	Data any
}

// NewRawItem is the ItemFactory for raw lists.
func NewRawItem(string) Item { return &RawItem{} }

// Update implements Item.
func (r *RawItem) Update(state json.RawMessage) error {
	var data any
	if err := r.decode(state, &data); err != nil {
		return err
	}
	r.Data = data
	return nil
}

// AccountInfo is the wire state of an account.
type AccountInfo struct {
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Kind            string   `json:"kind"`
	Enabled         bool     `json:"enabled"`
	Problems        []string `json:"problems,omitempty"`
	SyncRange       string   `json:"syncRange,omitempty"`
	SyncInterval    int      `json:"syncInterval,omitempty"`
	DefaultPriority int      `json:"defaultPriority,omitempty"`
}

// Account is an item of an accounts view.
type Account struct {
	ItemBase
	AccountInfo
}

// NewAccount is the ItemFactory for accounts.
func NewAccount(string) Item { return &Account{} }

// Update implements Item.
func (a *Account) Update(state json.RawMessage) error {
	var info AccountInfo
	if err := a.decode(state, &info); err != nil {
		return err
	}
	a.AccountInfo = info
	return nil
}

// FolderInfo is the wire state of a folder.
type FolderInfo struct {
	AccountID   string `json:"accountId"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Depth       int    `json:"depth"`
	UnreadCount int    `json:"unreadCount"`
}

// Folder is an item of a folders view.
type Folder struct {
	ItemBase
	FolderInfo
}

// NewFolder is the ItemFactory for folders.
func NewFolder(string) Item { return &Folder{} }

// Update implements Item.
func (f *Folder) Update(state json.RawMessage) error {
	var info FolderInfo
	if err := f.decode(state, &info); err != nil {
		return err
	}
	f.FolderInfo = info
	return nil
}

// ConversationInfo is the wire state of a conversation summary.
type ConversationInfo struct {
	Subject      string    `json:"subject"`
	Snippet      string    `json:"snippet,omitempty"`
	Date         time.Time `json:"date"`
	Authors      []string  `json:"authors,omitempty"`
	MessageCount int       `json:"messageCount"`
	UnreadCount  int       `json:"unreadCount"`
	HasStarred   bool      `json:"hasStarred,omitempty"`
}

// Conversation is an item of a folder conversations view.
type Conversation struct {
	ItemBase
	ConversationInfo
}

// NewConversation is the ItemFactory for conversations.
func NewConversation(string) Item { return &Conversation{} }

// Update implements Item.
func (c *Conversation) Update(state json.RawMessage) error {
	var info ConversationInfo
	if err := c.decode(state, &info); err != nil {
		return err
	}
	c.ConversationInfo = info
	return nil
}

// CalEventInfo is the wire state of a calendar event.
type CalEventInfo struct {
	Subject     string    `json:"subject"`
	Snippet     string    `json:"snippet,omitempty"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	IsAllDay    bool      `json:"isAllDay,omitempty"`
	IsRecurring bool      `json:"isRecurring,omitempty"`
	Organizer   string    `json:"organizer,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// CalEvent is an item of a calendar events view.
type CalEvent struct {
	ItemBase
	CalEventInfo
}

// NewCalEvent is the ItemFactory for calendar events.
func NewCalEvent(string) Item { return &CalEvent{} }

// Update implements Item.
func (e *CalEvent) Update(state json.RawMessage) error {
	var info CalEventInfo
	if err := e.decode(state, &info); err != nil {
		return err
	}
	e.CalEventInfo = info
	return nil
}

// Duration returns how long the event lasts.
func (e *CalEvent) Duration() time.Duration {
	return e.EndDate.Sub(e.StartDate)
}

package model

// Counts holds the message totals of a mailbox.
type Counts struct {
	Total  uint32 `json:"total"`
	Unseen uint32 `json:"unseen"`
}

// Mailbox describes a folder on the incoming mail server.
type Mailbox struct {
	// ID is the full server-side name, including parent path.
	ID string `json:"id"`

	// Name is the last path segment, for display.
	Name string `json:"name"`

	Delimiter  string    `json:"delimiter"`
	Selectable bool      `json:"selectable"`
	Counts     *Counts   `json:"counts,omitempty"`
	Children   []Mailbox `json:"children"`
}

// Flag is a message state flag.
type Flag string

const (
	FlagRead     Flag = "Read"
	FlagDeleted  Flag = "Deleted"
	FlagAnswered Flag = "Answered"
	FlagFlagged  Flag = "Flagged"
	FlagDraft    Flag = "Draft"
)

// Address is a mailbox address with an optional display name.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Preview is the summary of a message shown in message lists.
type Preview struct {
	ID      string    `json:"id"`
	From    []Address `json:"from"`
	Subject string    `json:"subject,omitempty"`

	// Sent is the message date as a unix timestamp in seconds.
	Sent  *int64 `json:"sent,omitempty"`
	Flags []Flag `json:"flags"`
}

// Content holds the renderable bodies of a message.
type Content struct {
	Text *string `json:"text,omitempty"`
	HTML *string `json:"html,omitempty"`
}

// Message is a fully fetched message.
type Message struct {
	Preview

	To      []Address         `json:"to"`
	CC      []Address         `json:"cc"`
	BCC     []Address         `json:"bcc"`
	Headers map[string]string `json:"headers"`
	Content Content           `json:"content"`
}

package domain

import "time"

type Actor struct {
	OID         string `json:"oid"`
	Origin      string `json:"origin"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	URL         string `json:"url,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Following   bool   `json:"following"`
}

type Note struct {
	LocalID     int64     `json:"local_id,omitempty"`
	OID         string    `json:"oid,omitempty"`
	Origin      string    `json:"origin"`
	Author      Actor     `json:"author"`
	Content     string    `json:"content"`
	URL         string    `json:"url,omitempty"`
	InReplyTo   string    `json:"in_reply_to,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Favorited   bool      `json:"favorited"`
	Reblogged   bool      `json:"reblogged"`
	Attachments []string  `json:"attachments,omitempty"`
}

type NoteStatus string

const (
	NoteDraft    NoteStatus = "draft"
	NoteSending  NoteStatus = "sending"
	NoteSent     NoteStatus = "sent"
	NoteReceived NoteStatus = "received"
	NoteDeleted  NoteStatus = "deleted"
)

// Origin is a remote service instance.
type Origin struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Users int64  `json:"users"`
}

type DownloadStatus string

const (
	DownloadAbsent  DownloadStatus = "absent"
	DownloadLoaded  DownloadStatus = "loaded"
	DownloadHardErr DownloadStatus = "hard_error"
)

type Download struct {
	ID          int64          `json:"id"`
	URL         string         `json:"url"`
	Status      DownloadStatus `json:"status"`
	ContentType string         `json:"content_type,omitempty"`
	Path        string         `json:"path,omitempty"`
}

type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// TimelinePage asks for notes newer than Since or older than Until.
type TimelinePage struct {
	Since string
	Until string
	Limit int
}

package domain

import "strings"

type TimelineType string

const (
	TimelineUnknown    TimelineType = "unknown"
	TimelineHome       TimelineType = "home"
	TimelineMentions   TimelineType = "mentions"
	TimelineDirect     TimelineType = "direct"
	TimelinePublic     TimelineType = "public"
	TimelineSearch     TimelineType = "search"
	TimelineFavorites  TimelineType = "favorites"
	TimelineSent       TimelineType = "sent"
	TimelineFollowers  TimelineType = "followers"
	TimelineFriends    TimelineType = "friends"
	TimelineEverything TimelineType = "everything"
)

func ParseTimelineType(s string) TimelineType {
	switch t := TimelineType(strings.ToLower(s)); t {
	case TimelineHome, TimelineMentions, TimelineDirect, TimelinePublic, TimelineSearch,
		TimelineFavorites, TimelineSent, TimelineFollowers, TimelineFriends, TimelineEverything:
		return t
	}
	return TimelineUnknown
}

// Timeline is a reference to a stream of remote items. It is resolved to an
// account and a connection only when a command targeting it is executed.
type Timeline struct {
	Type    TimelineType `json:"type"`
	Account string       `json:"account,omitempty"`
	Origin  string       `json:"origin,omitempty"`
	ActorID string       `json:"actor_id,omitempty"`
	Search  string       `json:"search,omitempty"`
}

// EmptyTimeline is the target of commands that are not bound to a timeline.
var EmptyTimeline = Timeline{Type: TimelineUnknown}

// Key identifies the timeline for de-duplication and cursor storage.
func (t Timeline) Key() string {
	typ := t.Type
	if typ == "" {
		typ = TimelineUnknown
	}
	return strings.Join([]string{string(typ), t.Account, t.Origin, t.ActorID, t.Search}, "|")
}

// IsActorList reports the followers/friends kind, which lists actors instead of notes.
func (t Timeline) IsActorList() bool {
	return t.Type == TimelineFollowers || t.Type == TimelineFriends
}

// IsSyncable reports whether notes of the timeline can be fetched from the origin.
func (t Timeline) IsSyncable() bool {
	switch t.Type {
	case TimelineHome, TimelineMentions, TimelineDirect, TimelinePublic, TimelineFavorites, TimelineSent:
		return true
	case TimelineSearch:
		return t.Search != ""
	}
	return false
}

func (t Timeline) String() string {
	var b strings.Builder
	b.WriteString(string(t.Type))
	if t.Account != "" {
		b.WriteString(" @" + t.Account)
	}
	if t.Search != "" {
		b.WriteString(" '" + t.Search + "'")
	}
	return b.String()
}

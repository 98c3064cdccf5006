package domain

// CommandCode tags the kind of work a Command performs.
type CommandCode string

const (
	CodeUnknown          CommandCode = "unknown"
	CodeGetTimeline      CommandCode = "get_timeline"
	CodeGetOlderTimeline CommandCode = "get_older_timeline"
	CodeGetFollowers     CommandCode = "get_followers"
	CodeGetFriends       CommandCode = "get_friends"
	CodeGetNote          CommandCode = "get_note"
	CodeGetActor         CommandCode = "get_actor"
	CodeUpdateNote       CommandCode = "update_note"
	CodeDeleteNote       CommandCode = "delete_note"
	CodeLike             CommandCode = "like"
	CodeUndoLike         CommandCode = "undo_like"
	CodeAnnounce         CommandCode = "announce"
	CodeUndoAnnounce     CommandCode = "undo_announce"
	CodeFollow           CommandCode = "follow"
	CodeUndoFollow       CommandCode = "undo_follow"
	CodeRateLimitStatus  CommandCode = "rate_limit_status"
	CodeGetAttachment    CommandCode = "get_attachment"
	CodeGetAvatar        CommandCode = "get_avatar"
	CodeGetOpenInstances CommandCode = "get_open_instances"
)

// DefaultRetries is the retry budget of codes that allow retries.
const DefaultRetries = 10

type codeInfo struct {
	priority       int
	noRetries      bool
	alwaysRunnable bool
	title          string
}

var codes = map[CommandCode]codeInfo{
	CodeUnknown:          {priority: 100, noRetries: true, title: "Unknown"},
	CodeUpdateNote:       {priority: -10, title: "Send note"},
	CodeGetNote:          {priority: -5, title: "Get note"},
	CodeGetActor:         {priority: -5, title: "Get actor"},
	CodeLike:             {priority: 1, title: "Like"},
	CodeUndoLike:         {priority: 1, title: "Undo like"},
	CodeAnnounce:         {priority: 1, title: "Announce"},
	CodeUndoAnnounce:     {priority: 1, title: "Undo announce"},
	CodeFollow:           {priority: 1, title: "Follow"},
	CodeUndoFollow:       {priority: 1, title: "Stop following"},
	CodeGetTimeline:      {priority: 4, noRetries: true, title: "Sync timeline"},
	CodeGetOlderTimeline: {priority: 6, noRetries: true, title: "Load older"},
	CodeGetFollowers:     {priority: 8, noRetries: true, title: "Get followers"},
	CodeGetFriends:       {priority: 8, noRetries: true, title: "Get friends"},
	CodeDeleteNote:       {priority: 10, title: "Delete note"},
	CodeRateLimitStatus:  {priority: 12, noRetries: true, title: "Rate limit status"},
	CodeGetAttachment:    {priority: 15, alwaysRunnable: true, title: "Download attachment"},
	CodeGetAvatar:        {priority: 16, alwaysRunnable: true, title: "Download avatar"},
	CodeGetOpenInstances: {priority: 20, noRetries: true, alwaysRunnable: true, title: "Get open instances"},
}

// ParseCode returns the code for s, or CodeUnknown and false.
func ParseCode(s string) (CommandCode, bool) {
	c := CommandCode(s)
	if _, ok := codes[c]; !ok || c == CodeUnknown {
		return CodeUnknown, false
	}
	return c, true
}

func (c CommandCode) info() codeInfo {
	if i, ok := codes[c]; ok {
		return i
	}
	return codes[CodeUnknown]
}

// Priority orders commands inside a queue; lower values run first.
func (c CommandCode) Priority() int { return c.info().priority }

// InitialRetries is the retry budget a fresh command of this code starts with.
func (c CommandCode) InitialRetries() int {
	if c.info().noRetries {
		return 0
	}
	return DefaultRetries
}

// AlwaysRunnable reports codes that execute whatever the state of the account.
func (c CommandCode) AlwaysRunnable() bool { return c.info().alwaysRunnable }

// FetchesTimeline reports codes that read a timeline (or an actor list).
func (c CommandCode) FetchesTimeline() bool {
	switch c {
	case CodeGetTimeline, CodeGetOlderTimeline, CodeGetFollowers, CodeGetFriends:
		return true
	}
	return false
}

func (c CommandCode) Title() string { return c.info().title }

// Codes lists all known codes except CodeUnknown.
func Codes() []CommandCode {
	out := make([]CommandCode, 0, len(codes))
	for c := range codes {
		if c != CodeUnknown {
			out = append(out, c)
		}
	}
	return out
}

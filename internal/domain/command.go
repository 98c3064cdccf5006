package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Command is one unit of background work.
type Command struct {
	ID           string      `json:"id"`
	Code         CommandCode `json:"code"`
	Timeline     Timeline    `json:"timeline"`
	ItemID       string      `json:"item_id,omitempty"`
	Description  string      `json:"description,omitempty"`
	InForeground bool        `json:"in_foreground"`
	Manual       bool        `json:"manual"`
	CreatedAt    time.Time   `json:"created_at"`
	Result       Result      `json:"result"`
}

func NewCommand(code CommandCode, tl Timeline, now time.Time) *Command {
	return &Command{
		ID:        uuid.NewString(),
		Code:      code,
		Timeline:  tl,
		CreatedAt: now,
		Result:    NewResult(code),
	}
}

// NewItemCommand builds a command acting on a single item (note, actor,
// download). Its description names the item so that commands for
// different items stay distinct.
func NewItemCommand(code CommandCode, tl Timeline, itemID string, now time.Time) *Command {
	c := NewCommand(code, tl, now)
	c.ItemID = itemID
	c.Description = string(code) + " " + itemID
	return c
}

// Key identifies logically identical commands; the generated ID is not part of it.
func (c *Command) Key() string {
	return string(c.Code) + "#" + c.Timeline.Key() + "#" + c.Description
}

// Less orders commands by code priority, then creation time.
func (c *Command) Less(o *Command) bool {
	if p1, p2 := c.Code.Priority(), o.Code.Priority(); p1 != p2 {
		return p1 < p2
	}
	if !c.CreatedAt.Equal(o.CreatedAt) {
		return c.CreatedAt.Before(o.CreatedAt)
	}
	return c.ID < o.ID
}

func (c *Command) Clone() *Command {
	cp := *c
	return &cp
}

func (c *Command) Summary() string {
	s := c.Code.Title()
	if c.Timeline.Type != TimelineUnknown && c.Timeline.Type != "" {
		s += "; " + c.Timeline.String()
	}
	if c.Description != "" {
		s += "; " + c.Description
	}
	return s
}

func (c *Command) String() string {
	return fmt.Sprintf("%s [%s] retries=%d", c.Summary(), c.ID, c.Result.RetriesLeft)
}

// Record flattens the command into string key-value pairs for storage.
func (c *Command) Record() map[string]string {
	r := c.Result
	return map[string]string{
		"id":                   c.ID,
		"code":                 string(c.Code),
		"timeline_type":        string(c.Timeline.Type),
		"timeline_account":     c.Timeline.Account,
		"timeline_origin":      c.Timeline.Origin,
		"timeline_actor_id":    c.Timeline.ActorID,
		"timeline_search":      c.Timeline.Search,
		"item_id":              c.ItemID,
		"description":          c.Description,
		"in_foreground":        strconv.FormatBool(c.InForeground),
		"manual":               strconv.FormatBool(c.Manual),
		"created_at":           strconv.FormatInt(toNanos(c.CreatedAt), 10),
		"execution_count":      strconv.Itoa(r.ExecutionCount),
		"retries_left":         strconv.Itoa(r.RetriesLeft),
		"last_executed":        strconv.FormatInt(toNanos(r.LastExecuted), 10),
		"num_auth_exceptions":  strconv.Itoa(r.NumAuthExceptions),
		"num_io_exceptions":    strconv.Itoa(r.NumIoExceptions),
		"num_parse_exceptions": strconv.Itoa(r.NumParseExceptions),
		"message":              r.Message,
		"downloaded_count":     strconv.Itoa(r.DownloadedCount),
		"new_count":            strconv.Itoa(r.NewCount),
		"result_item_id":       r.ResultItemID,
	}
}

// CommandFromRecord is the inverse of Command.Record.
func CommandFromRecord(m map[string]string) (*Command, error) {
	if m["id"] == "" {
		return nil, fmt.Errorf("command record without id")
	}
	p := recordParser{m: m}
	c := &Command{
		ID:   m["id"],
		Code: CommandCode(m["code"]),
		Timeline: Timeline{
			Type:    TimelineType(m["timeline_type"]),
			Account: m["timeline_account"],
			Origin:  m["timeline_origin"],
			ActorID: m["timeline_actor_id"],
			Search:  m["timeline_search"],
		},
		ItemID:       m["item_id"],
		Description:  m["description"],
		InForeground: p.bool("in_foreground"),
		Manual:       p.bool("manual"),
		CreatedAt:    fromNanos(p.int64("created_at")),
		Result: Result{
			ExecutionCount:     p.int("execution_count"),
			RetriesLeft:        p.int("retries_left"),
			LastExecuted:       fromNanos(p.int64("last_executed")),
			NumAuthExceptions:  p.int("num_auth_exceptions"),
			NumIoExceptions:    p.int("num_io_exceptions"),
			NumParseExceptions: p.int("num_parse_exceptions"),
			Message:            m["message"],
			DownloadedCount:    p.int("downloaded_count"),
			NewCount:           p.int("new_count"),
			ResultItemID:       m["result_item_id"],
		},
	}
	if p.err != nil {
		return nil, fmt.Errorf("command record %s: %w", c.ID, p.err)
	}
	return c, nil
}

type recordParser struct {
	m   map[string]string
	err error
}

func (p *recordParser) int64(key string) int64 {
	v := p.m[key]
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", key, err)
	}
	return n
}

func (p *recordParser) int(key string) int { return int(p.int64(key)) }

func (p *recordParser) bool(key string) bool {
	v := p.m[key]
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", key, err)
	}
	return b
}

// ToMillis stores zero times as 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Command times keep full precision: CreatedAt breaks priority ties.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

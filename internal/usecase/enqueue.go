package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"syncq/internal/domain"
	"syncq/internal/ports"
)

// CommandSink accepts new commands for background execution.
type CommandSink interface {
	Submit(cmd *domain.Command) error
}

type SubmitRequest struct {
	Code         string          `json:"code"`
	Timeline     domain.Timeline `json:"timeline"`
	ItemID       string          `json:"item_id,omitempty"`
	Description  string          `json:"description,omitempty"`
	InForeground bool            `json:"in_foreground"`
	Manual       bool            `json:"manual"`
}

// Submitter turns requests into commands and hands them to the worker.
type Submitter struct {
	Sink     CommandSink
	Accounts ports.AccountStore
	Data     ports.DataUpdater
	Now      func() time.Time
}

func (s Submitter) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s Submitter) Submit(ctx context.Context, req SubmitRequest) (*domain.Command, error) {
	code, ok := domain.ParseCode(strings.TrimSpace(req.Code))
	if !ok {
		return nil, fmt.Errorf("%q: %w", req.Code, domain.ErrUnknownCode)
	}
	tl := req.Timeline
	if tl.Type == "" {
		tl.Type = domain.TimelineUnknown
	} else {
		tl.Type = domain.ParseTimelineType(string(tl.Type))
	}
	if tl.Origin == "" && tl.Account != "" && s.Accounts != nil {
		if acct, ok := s.Accounts.Get(tl.Account); ok {
			tl.Origin = acct.Origin()
		}
	}

	var cmd *domain.Command
	if req.ItemID != "" {
		cmd = domain.NewItemCommand(code, tl, req.ItemID, s.now())
	} else {
		cmd = domain.NewCommand(code, tl, s.now())
	}
	if req.Description != "" {
		cmd.Description = req.Description
	}
	cmd.InForeground = req.InForeground
	cmd.Manual = req.Manual

	if err := s.Sink.Submit(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// PostNote stores a draft for account and submits the command sending it.
func (s Submitter) PostNote(ctx context.Context, account, content, inReplyTo string) (*domain.Command, error) {
	acct, ok := s.Accounts.Get(account)
	if !ok {
		return nil, fmt.Errorf("account %s: %w", account, domain.ErrNotFound)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("note content is empty")
	}
	localID, err := s.Data.CreateDraft(ctx, acct, content, inReplyTo)
	if err != nil {
		return nil, fmt.Errorf("store draft: %w", err)
	}
	tl := domain.Timeline{Type: domain.TimelineSent, Account: acct.Name, Origin: acct.Origin(), ActorID: acct.ActorID()}
	return s.Submit(ctx, SubmitRequest{
		Code:         string(domain.CodeUpdateNote),
		Timeline:     tl,
		ItemID:       strconv.FormatInt(localID, 10),
		InForeground: true,
		Manual:       true,
	})
}

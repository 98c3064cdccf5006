package api

import (
	"syncq/internal/domain"
)

type CommandView struct {
	*domain.Command
	Queue    domain.QueueType `json:"queue"`
	Summary  string           `json:"summary"`
	Priority int              `json:"priority"`
}

func viewOf(c *domain.Command, qt domain.QueueType) CommandView {
	return CommandView{Command: c, Queue: qt, Summary: c.Summary(), Priority: c.Code.Priority()}
}

type QueueView struct {
	Type     domain.QueueType `json:"type"`
	Size     int              `json:"size"`
	Commands []CommandView    `json:"commands"`
}

type PostNoteRequest struct {
	Account   string `json:"account"`
	Content   string `json:"content"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

type ServiceView struct {
	State     string `json:"state"`
	Ready     bool   `json:"ready"`
	Executing string `json:"executing,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

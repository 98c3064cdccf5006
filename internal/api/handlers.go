package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"syncq/internal/app"
	"syncq/internal/domain"
	"syncq/internal/events"
	"syncq/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Handlers struct {
	App *app.Context
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownCode):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrStopping):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": h.App.Ready()})
}

func (h *Handlers) queueView(qt domain.QueueType) QueueView {
	cmds := h.App.Queue.List(qt)
	v := QueueView{Type: qt, Size: len(cmds), Commands: make([]CommandView, 0, len(cmds))}
	for _, c := range cmds {
		v.Commands = append(v.Commands, viewOf(c, qt))
	}
	return v
}

func (h *Handlers) ListQueues(w http.ResponseWriter, r *http.Request) {
	out := make([]QueueView, 0, len(domain.QueueTypes))
	for _, qt := range domain.QueueTypes {
		out = append(out, h.queueView(qt))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) ListQueue(w http.ResponseWriter, r *http.Request) {
	qt, ok := domain.ParseQueueType(chi.URLParam(r, "type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown queue type")
		return
	}
	writeJSON(w, http.StatusOK, h.queueView(qt))
}

func (h *Handlers) ClearQueues(w http.ResponseWriter, r *http.Request) {
	n := h.App.Queue.Clear()
	h.App.Bus.Publish(events.Event{Type: events.EventQueueChanged, Text: "cleared"})
	log.Ctx(r.Context()).Info().Int("removed", n).Msg("command queue cleared")
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req usecase.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	cmd, err := h.App.Submitter.Submit(r.Context(), req)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(cmd, domain.QueuePre))
}

func (h *Handlers) Resend(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.App.Queue.Resend(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	h.App.Bus.Publish(events.Event{Type: events.EventQueueChanged, Command: cmd, Queue: domain.QueueCurrent})
	if err := h.App.Service.Wake(); err != nil {
		log.Ctx(r.Context()).Debug().Err(err).Msg("resend did not wake the worker")
	}
	writeJSON(w, http.StatusOK, viewOf(cmd, domain.QueueCurrent))
}

func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.App.Queue.Delete(id) {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	h.App.Bus.Publish(events.Event{Type: events.EventQueueChanged, Text: "deleted " + id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) PostNote(w http.ResponseWriter, r *http.Request) {
	var req PostNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.Account == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "account and content are required")
		return
	}
	cmd, err := h.App.Submitter.PostNote(r.Context(), req.Account, req.Content, req.InReplyTo)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(cmd, domain.QueuePre))
}

func (h *Handlers) ServiceState(w http.ResponseWriter, r *http.Request) {
	v := ServiceView{State: string(h.App.Service.State()), Ready: h.App.Ready()}
	if id, ok := h.App.Service.Executing(); ok {
		v.Executing = id
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handlers) Wake(w http.ResponseWriter, r *http.Request) {
	if err := h.App.Service.Wake(); err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "woken"})
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/unveilhq/guest-messenger/internal/model"
	"github.com/unveilhq/guest-messenger/internal/repository"
	xhttp "github.com/unveilhq/guest-messenger/pkg/http"
)

type MessageService interface {
	Schedule(ctx context.Context, p model.ScheduleCreateRequest, now time.Time) (*model.ScheduledMessage, error)
	Cancel(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*model.ScheduledMessage, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
	History(ctx context.Context, f model.MessageFilter) ([]*model.MessageWithDeliveries, int64, error)
}

type MessageHandler struct {
	svc MessageService
}

func RegisterMessageRoutes(e *router.Group, h *MessageHandler) {
	e.POST("/messages/schedule", h.ScheduleMessage)
	e.POST("/messages/schedule/{id}/cancel", h.CancelScheduled)
	e.GET("/messages/schedule/{id}", h.GetScheduled)
	e.GET("/messages", h.ListMessages)
	e.GET("/messages/history", h.ListHistory)
}

func NewMessageHandler(messageService MessageService) *MessageHandler {
	return &MessageHandler{
		svc: messageService,
	}
}

type scheduleMessageRequest struct {
	EventID         int64    `json:"event_id"`
	SenderUserID    int64    `json:"sender_user_id"`
	Content         string   `json:"content"`
	MessageType     string   `json:"message_type"`
	SendAt          string   `json:"send_at"`
	TargetAllGuests bool     `json:"target_all_guests"`
	TargetGuestIDs  []int64  `json:"target_guest_ids"`
	TargetGuestTags []string `json:"target_guest_tags"`
	RequireAllTags  bool     `json:"require_all_tags"`
	SendViaSMS      bool     `json:"send_via_sms"`
	SendViaPush     bool     `json:"send_via_push"`
	SendViaEmail    bool     `json:"send_via_email"`
}

type listResponse struct {
	Items []*model.Message `json:"items"`
	Total int64            `json:"total"`
}

type historyResponse struct {
	Items []*model.MessageWithDeliveries `json:"items"`
	Total int64                          `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *MessageHandler) ScheduleMessage(ctx *xhttp.RequestCtx) {
	var req scheduleMessageRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	sendAt, err := parseTime(req.SendAt)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid send_at: "+req.SendAt)
		return
	}

	p := model.ScheduleCreateRequest{
		EventID:         req.EventID,
		SenderUserID:    req.SenderUserID,
		Content:         req.Content,
		MessageType:     model.MessageType(req.MessageType),
		SendAt:          sendAt,
		TargetAllGuests: req.TargetAllGuests,
		TargetGuestIDs:  req.TargetGuestIDs,
		TargetGuestTags: req.TargetGuestTags,
		RequireAllTags:  req.RequireAllTags,
		SendViaSMS:      req.SendViaSMS,
		SendViaPush:     req.SendViaPush,
		SendViaEmail:    req.SendViaEmail,
	}

	msg, err := h.svc.Schedule(ctx, p, time.Now().UTC())
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, msg)
}

func (h *MessageHandler) CancelScheduled(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid id")
		return
	}

	if err := h.svc.Cancel(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotCancellable) {
			// The claim won the race; the message is past the cancel window.
			writeError(ctx, xhttp.StatusConflict, err.Error())
			return
		}
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]bool{"cancelled": true})
}

func (h *MessageHandler) GetScheduled(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid id")
		return
	}

	msg, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrScheduledNotFound) {
			writeError(ctx, xhttp.StatusNotFound, err.Error())
			return
		}
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, msg)
}

func (h *MessageHandler) ListMessages(ctx *xhttp.RequestCtx) {
	f := parseMessageFilter(ctx)

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse{Items: items, Total: total})
}

func (h *MessageHandler) ListHistory(ctx *xhttp.RequestCtx) {
	f := parseMessageFilter(ctx)

	items, total, err := h.svc.History(ctx, f)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, historyResponse{Items: items, Total: total})
}

func parseMessageFilter(ctx *xhttp.RequestCtx) model.MessageFilter {
	var f model.MessageFilter

	if v := query(ctx, "event_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.EventID = &id
		}
	}
	if v := query(ctx, "type"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Types = append(f.Types, model.MessageType(parts[i]))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	return f
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(v, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hayahq/haya/internal/agent"
	"github.com/hayahq/haya/internal/errdefs"
	"github.com/hayahq/haya/pkg/models"
)

// chatResult is the wire shape of a completed chat turn.
type chatResult struct {
	SessionID    string              `json:"sessionId"`
	Text         string              `json:"text"`
	FinishReason models.FinishReason `json:"finishReason,omitempty"`
	Usage        models.TokenUsage   `json:"usage"`
}

// invoke routes one RPC request. Errors map to wire codes via errdefs.
func (s *Server) invoke(ctx context.Context, sess *wsSession, frame wsFrame) (any, error) {
	switch frame.Method {
	case "chat.send":
		return s.rpcChat(ctx, frame.Params, nil)
	case "chat.stream":
		return s.rpcChatStream(ctx, sess, frame)
	case "sessions.list":
		return s.rpcSessionsList()
	case "sessions.create":
		return s.rpcSessionsCreate(frame.Params)
	case "sessions.delete":
		return s.rpcSessionsDelete(frame.Params)
	case "sessions.history":
		return s.rpcSessionsHistory(frame.Params)
	case "channels.list":
		return s.deps.Dock.List(), nil
	case "channels.start":
		return s.rpcChannelsStart(ctx, frame.Params)
	case "channels.stop":
		return s.rpcChannelsStop(ctx, frame.Params)
	case "cron.list":
		return s.deps.Cron.Jobs(), nil
	case "cron.status":
		return s.deps.Cron.Status(), nil
	case "cron.add":
		return s.rpcCronAdd(frame.Params)
	case "cron.remove":
		return s.rpcCronRemove(frame.Params)
	case "tools.approve":
		return s.rpcToolsApprove(frame.Params)
	default:
		return nil, &errdefs.ValidationError{Msg: fmt.Sprintf("unknown method %q", frame.Method)}
	}
}

type chatParams struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
}

func decodeParams[T any](raw json.RawMessage, out *T) error {
	if len(raw) == 0 {
		return &errdefs.ValidationError{Msg: "params are required"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &errdefs.ValidationError{Msg: "malformed params"}
	}
	return nil
}

func (s *Server) rpcChat(ctx context.Context, raw json.RawMessage, onEvent func(agent.Event)) (*chatResult, error) {
	var p chatParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Message) == "" {
		return nil, &errdefs.ValidationError{Msg: "message is required"}
	}
	if p.SessionID == "" {
		return nil, &errdefs.ValidationError{Msg: "sessionId is required"}
	}
	res, err := s.deps.Processor.ChatDirect(ctx, p.SessionID, p.Message, p.Model, onEvent)
	if err != nil {
		return nil, err
	}
	return &chatResult{
		SessionID:    p.SessionID,
		Text:         res.Message.Content,
		FinishReason: res.FinishReason,
		Usage:        res.Usage,
	}, nil
}

// rpcChatStream relays runtime events as frames: chat.delta per text
// chunk, chat.tool for tool progress, one chat.response carrying the
// final text before the request settles.
func (s *Server) rpcChatStream(ctx context.Context, sess *wsSession, frame wsFrame) (any, error) {
	res, err := s.rpcChat(ctx, frame.Params, func(ev agent.Event) {
		switch ev.Type {
		case "delta":
			sess.event("chat.delta", map[string]any{
				"id": frame.ID, "content": ev.Content,
			})
		case "tool-call-start", "tool-result":
			sess.event("chat.tool", map[string]any{
				"id": frame.ID, "phase": ev.Type, "name": ev.Name, "excerpt": ev.Excerpt,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	sess.event("chat.response", res)
	return res, nil
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title,omitempty"`
}

func (s *Server) rpcSessionsList() (any, error) {
	items, err := s.deps.Store.List()
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessions": items}, nil
}

func (s *Server) rpcSessionsCreate(raw json.RawMessage) (any, error) {
	p := sessionParams{}
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}
	if p.SessionID == "" {
		p.SessionID = uuid.NewString()
	}
	err := s.deps.Store.Create(p.SessionID, &models.SessionMeta{
		Title:     p.Title,
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessionId": p.SessionID}, nil
}

func (s *Server) rpcSessionsDelete(raw json.RawMessage) (any, error) {
	var p sessionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.deps.Store.Delete(p.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": p.SessionID}, nil
}

func (s *Server) rpcSessionsHistory(raw json.RawMessage) (any, error) {
	var p sessionParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	msgs, err := s.deps.Store.ReadMessages(p.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sessionId": p.SessionID, "messages": msgs}, nil
}

type channelParams struct {
	Channel string `json:"channel"`
}

func (s *Server) rpcChannelsStart(ctx context.Context, raw json.RawMessage) (any, error) {
	var p channelParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	cfg, ok := s.deps.Config.Channels[p.Channel]
	if !ok {
		return nil, &errdefs.NotFoundError{Kind: "channel config", ID: p.Channel}
	}
	if err := s.deps.Dock.Start(ctx, models.ChannelType(p.Channel), cfg); err != nil {
		return nil, err
	}
	return map[string]any{"started": p.Channel}, nil
}

func (s *Server) rpcChannelsStop(ctx context.Context, raw json.RawMessage) (any, error) {
	var p channelParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.deps.Dock.Stop(ctx, models.ChannelType(p.Channel)); err != nil {
		return nil, err
	}
	return map[string]any{"stopped": p.Channel}, nil
}

type cronAddParams struct {
	Name     string `json:"name,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Action   string `json:"action,omitempty"`
	// Reminder shorthand: an ISO time plus a message.
	Message   string `json:"message,omitempty"`
	At        string `json:"at,omitempty"`
	Channel   string `json:"channel,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

func (s *Server) rpcCronAdd(raw json.RawMessage) (any, error) {
	var p cronAddParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.At != "" {
		job, err := s.deps.Cron.AddReminder(p.Message, p.At, p.Channel, p.ChannelID)
		if err != nil {
			return nil, err
		}
		return job, nil
	}
	action := p.Action
	if action == "" {
		action = models.ActionSendReminder
	}
	job, err := s.deps.Cron.AddJob(models.CronJob{
		Name:     p.Name,
		Schedule: p.Schedule,
		Action:   action,
		Enabled:  true,
		Metadata: map[string]string{
			"message":   p.Message,
			"channel":   p.Channel,
			"channelId": p.ChannelID,
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Server) rpcCronRemove(raw json.RawMessage) (any, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if err := s.deps.Cron.RemoveJob(p.ID); err != nil {
		return nil, err
	}
	return map[string]any{"removed": p.ID}, nil
}

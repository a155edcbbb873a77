package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/hayahq/haya/internal/errdefs"
)

// Tool approvals relay confirm-policy tool calls to connected RPC clients.
// The server broadcasts a tool.confirm event and waits for a tools.approve
// reply; with no client attached the call is denied immediately, matching
// the registry's closed-by-default policy.

func (s *Server) addSession(sess *wsSession) {
	s.sessMu.Lock()
	s.wsConns[sess] = struct{}{}
	s.sessMu.Unlock()
}

func (s *Server) removeSession(sess *wsSession) {
	s.sessMu.Lock()
	delete(s.wsConns, sess)
	s.sessMu.Unlock()
}

// ApproveTool asks connected clients to confirm a tool call. The first
// tools.approve reply wins; ctx carries the registry's approval deadline.
// Satisfies tools.Approver.
func (s *Server) ApproveTool(ctx context.Context, tool, args string) bool {
	id := uuid.NewString()
	ch := make(chan bool, 1)

	s.sessMu.Lock()
	if len(s.wsConns) == 0 {
		s.sessMu.Unlock()
		s.logger.Warn("tool approval denied, no client connected", "tool", tool)
		return false
	}
	s.approvals[id] = ch
	conns := make([]*wsSession, 0, len(s.wsConns))
	for c := range s.wsConns {
		conns = append(conns, c)
	}
	s.sessMu.Unlock()

	defer func() {
		s.sessMu.Lock()
		delete(s.approvals, id)
		s.sessMu.Unlock()
	}()

	for _, c := range conns {
		c.event("tool.confirm", map[string]any{
			"approvalId": id,
			"tool":       tool,
			"args":       args,
		})
	}

	select {
	case approved := <-ch:
		return approved
	case <-ctx.Done():
		s.logger.Warn("tool approval timed out", "tool", tool)
		return false
	}
}

// resolveApproval delivers a client's verdict. False means the approval id
// is unknown or already resolved.
func (s *Server) resolveApproval(id string, approve bool) bool {
	s.sessMu.Lock()
	ch, ok := s.approvals[id]
	if ok {
		delete(s.approvals, id)
	}
	s.sessMu.Unlock()
	if !ok {
		return false
	}
	ch <- approve
	return true
}

func (s *Server) rpcToolsApprove(raw json.RawMessage) (any, error) {
	var p struct {
		ApprovalID string `json:"approvalId"`
		Approve    bool   `json:"approve"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.ApprovalID == "" {
		return nil, &errdefs.ValidationError{Msg: "approvalId is required"}
	}
	if !s.resolveApproval(p.ApprovalID, p.Approve) {
		return nil, &errdefs.NotFoundError{Kind: "approval", ID: p.ApprovalID}
	}
	return map[string]any{"resolved": p.ApprovalID}, nil
}

package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/becomeliminal/memory-agent/config"
	"github.com/becomeliminal/memory-agent/core"
)

// TurnRequest is one client message on /ws.
type TurnRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Message  string `json:"message"`
}

// TurnResponse answers a TurnRequest.
type TurnResponse struct {
	ThreadID       string `json:"thread_id"`
	Reply          string `json:"reply,omitempty"`
	RecordsWritten int    `json:"records_written"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	log.Printf("[SERVER] Connection %s opened", connID)

	// Turns on one connection run one at a time.
	for {
		var req TurnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SERVER] Connection %s read error: %v", connID, err)
			}
			break
		}
		if req.ThreadID == "" {
			req.ThreadID = connID
		}

		resp := s.turn(r.Context(), req)
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("[SERVER] Connection %s write error: %v", connID, err)
			break
		}
	}

	log.Printf("[SERVER] Connection %s closed", connID)
}

// turn loads the thread, runs the engine and saves the thread. The thread
// is saved even when the turn fails so completed steps are kept.
func (s *Server) turn(ctx context.Context, req TurnRequest) TurnResponse {
	resp := TurnResponse{ThreadID: req.ThreadID}
	if strings.TrimSpace(req.Message) == "" {
		resp.Error = "message is required"
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	unlock := s.lockThread(req.ThreadID)
	defer unlock()

	state, err := s.cfg.Checkpointer.Load(ctx, req.ThreadID)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	state.Append(core.NewUserMessage(req.Message))

	result, runErr := s.cfg.Engine.Run(ctx, state, s.agentFor(req.UserID))

	if err := s.cfg.Checkpointer.Save(ctx, req.ThreadID, state); err != nil {
		log.Printf("[SERVER] Save thread %s failed: %v", req.ThreadID, err)
		if runErr == nil {
			runErr = fmt.Errorf("save thread: %w", err)
		}
	}

	if runErr != nil {
		log.Printf("[SERVER] Turn on thread %s failed: %v", req.ThreadID, runErr)
		resp.Error = runErr.Error()
		return resp
	}

	resp.Reply = result.Reply
	resp.RecordsWritten = result.RecordsWritten
	return resp
}

// agentFor returns the agent config for a request. A user id named by the
// request is used verbatim.
func (s *Server) agentFor(userID string) *config.AgentConfig {
	base := s.cfg.Agent
	if userID == "" || userID == base.UserID() {
		return base
	}
	return base.ForUser(userID)
}

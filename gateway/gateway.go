// Package gateway is the thin chat-transport edge: a WebSocket endpoint
// accepting conversation turns as JSON and answering with the reply
// plus the memory context that informed it. All correctness lives in
// the memory core; the gateway only moves messages and degrades
// gracefully when the memory side misbehaves.
package gateway

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/engram/core"
	"github.com/becomeliminal/engram/memory"
)

// TurnRequest is one inbound conversation turn on the wire.
type TurnRequest struct {
	Scope     string    `json:"scope"`
	Session   string    `json:"session"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// TurnResponse is the answer to one turn.
type TurnResponse struct {
	Reply    string   `json:"reply,omitempty"`
	Memories []string `json:"memories,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Responder produces the conversational reply for a turn given the
// formatted memory context. The model call lives behind this function;
// a nil Responder makes the gateway a pure memory endpoint that
// returns retrieved memories only.
type Responder func(ctx context.Context, turn core.Turn, memoryContext string) (string, error)

// Server serves the WebSocket chat endpoint.
type Server struct {
	manager  *memory.Manager
	respond  Responder
	upgrader websocket.Upgrader
}

// New creates a gateway over the memory manager.
func New(manager *memory.Manager, respond Responder) *Server {
	return &Server{
		manager: manager,
		respond: respond,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The gateway fronts trusted infrastructure, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the WebSocket handler for mounting under /ws.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[GATEWAY] Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		log.Printf("[GATEWAY] Connection from %s", r.RemoteAddr)
		for {
			var req TurnRequest
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("[GATEWAY] Read failed: %v", err)
				}
				return
			}

			resp := s.handleTurn(r.Context(), req)
			if err := conn.WriteJSON(resp); err != nil {
				log.Printf("[GATEWAY] Write failed: %v", err)
				return
			}
		}
	})
}

// handleTurn runs one turn through the memory pipeline: retrieve
// context for the query, produce the reply, then ingest the turn and
// record the exchange. Memory failures degrade the turn, never fail
// it; the user experiences forgetfulness, not an error, unless the
// turn itself is malformed.
func (s *Server) handleTurn(ctx context.Context, req TurnRequest) TurnResponse {
	turn := core.Turn{
		Scope:     req.Scope,
		Session:   req.Session,
		Text:      req.Text,
		Timestamp: req.Timestamp,
	}
	if err := memory.ValidateScope(turn.Scope); err != nil {
		return TurnResponse{Error: "scope is required"}
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	memories, err := s.manager.Retrieve(ctx, turn.Scope, turn.Text)
	if err != nil {
		log.Printf("[GATEWAY] Retrieval degraded for scope %s: %v", turn.Scope, err)
		memories = nil
	}

	var reply string
	if s.respond != nil {
		// One retrieval per turn: the prompt context is built from the
		// same results reported back to the client.
		reply, err = s.respond(ctx, turn, s.manager.FormatContext(memories))
		if err != nil {
			log.Printf("[GATEWAY] Responder failed for scope %s: %v", turn.Scope, err)
			return TurnResponse{Memories: memories, Error: "reply generation failed"}
		}
	}

	if _, err := s.manager.Ingest(ctx, turn); err != nil {
		// Surfaced for operators; the conversational turn already
		// succeeded from the user's point of view.
		log.Printf("[GATEWAY] Ingestion failed for scope %s: %v", turn.Scope, err)
	}
	if err := s.manager.RecordExchange(ctx, turn, reply); err != nil {
		log.Printf("[GATEWAY] Recording exchange failed for scope %s: %v", turn.Scope, err)
	}

	return TurnResponse{Reply: reply, Memories: memories}
}

// ABOUTME: Minimal fake gateway for manual testing — websocket channels plus SSE content streams.
// ABOUTME: Usage: fake-gateway [-addr localhost:8080] [-name "Echo Agent"]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/loom-client/internal/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "listen address")
	name := flag.String("name", "Echo Agent", "agent display name")
	agentID := flag.String("id", "echo-agent", "agent ID")
	flag.Parse()

	g := &gateway{
		agent:   protocol.Agent{ID: *agentID, Name: *name, Capabilities: []string{"chat", "echo"}},
		replies: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/command", g.handleCommand)
	mux.HandleFunc("/ws/events", g.handleEvents)
	mux.HandleFunc("/api/message/", g.handleMessage)

	srv := &http.Server{Addr: *addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	color.Green("fake gateway listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

type gateway struct {
	agent    protocol.Agent
	upgrader websocket.Upgrader

	mu      sync.Mutex
	events  *websocket.Conn
	replies map[string]string // message ID -> content to stream
}

// pushEvent serializes an event envelope onto the events socket, if one is
// connected.
func (g *gateway) pushEvent(ev protocol.EventEnvelope) {
	ev.MessageID = uuid.New().String()
	ev.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("marshal event: %v", err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.events == nil {
		return
	}
	if err := g.events.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("push event: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func (g *gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events upgrade: %v", err)
		return
	}
	g.mu.Lock()
	g.events = conn
	g.mu.Unlock()
	color.Cyan("events channel connected from %s", r.RemoteAddr)

	// A fresh events connection gets the agent list immediately.
	g.pushEvent(protocol.EventEnvelope{
		Type: protocol.EventAgentListUpdate,
		Data: mustJSON(protocol.AgentListUpdate{Agents: []protocol.Agent{g.agent}}),
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	g.mu.Lock()
	if g.events == conn {
		g.events = nil
	}
	g.mu.Unlock()
}

func (g *gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("command upgrade: %v", err)
		return
	}
	defer conn.Close()
	color.Cyan("command channel connected from %s", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd protocol.CommandEnvelope
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Printf("bad command frame: %v", err)
			continue
		}
		log.Printf("command [%s] agent=%s", cmd.Type, cmd.AgentID)
		g.handleCmd(cmd)
	}
}

func (g *gateway) handleCmd(cmd protocol.CommandEnvelope) {
	switch cmd.Type {
	case protocol.CmdGetAgents:
		g.pushEvent(protocol.EventEnvelope{
			Type: protocol.EventAgentListUpdate,
			Data: mustJSON(protocol.AgentListUpdate{Agents: []protocol.Agent{g.agent}}),
		})
	case protocol.CmdGetTools:
		g.pushEvent(protocol.EventEnvelope{
			Type: protocol.EventToolUpdate,
			Data: mustJSON(protocol.ToolListUpdate{Tools: []protocol.Tool{{Name: "echo", Description: "Echoes the input"}}}),
		})
	case protocol.CmdGetModels:
		g.pushEvent(protocol.EventEnvelope{
			Type: protocol.EventModelUpdate,
			Data: mustJSON(protocol.ModelListUpdate{Models: []protocol.Model{{ID: "echo-1", Name: "Echo", Provider: "fake"}}}),
		})
	case protocol.CmdGetPrompts:
		g.pushEvent(protocol.EventEnvelope{
			Type: protocol.EventPromptUpdate,
			Data: mustJSON(protocol.PromptListUpdate{}),
		})
	case protocol.CmdChatMessage:
		g.handleChat(cmd)
	}
}

func (g *gateway) handleChat(cmd protocol.CommandEnvelope) {
	var msg protocol.ChatMessage
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, &msg); err != nil {
			log.Printf("bad chat payload: %v", err)
			return
		}
	}

	sessionID := cmd.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
		g.pushEvent(protocol.EventEnvelope{
			Type:      protocol.EventSessionCreated,
			AgentID:   cmd.AgentID,
			SessionID: sessionID,
			Data:      mustJSON(protocol.SessionCreated{SessionID: sessionID}),
		})
	}

	messageID := uuid.New().String()
	g.mu.Lock()
	g.replies[messageID] = echoReply(msg.Content)
	g.mu.Unlock()

	g.pushEvent(protocol.EventEnvelope{
		Type:      protocol.EventAgentStreamStart,
		AgentID:   cmd.AgentID,
		AgentName: g.agent.Name,
		SessionID: sessionID,
		Data:      mustJSON(protocol.StreamStart{MessageID: messageID}),
	})
}

// handleMessage serves both /api/message/{id}/content (SSE) and the
// control endpoints /api/message/{id}/{cancel,pause,resume}.
func (g *gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.NotFound(w, r)
		return
	}
	id, tail := parts[2], parts[3]

	if r.Method == http.MethodPost {
		log.Printf("control [%s] message=%s", tail, id)
		w.WriteHeader(http.StatusOK)
		return
	}
	if tail != "content" {
		http.NotFound(w, r)
		return
	}
	g.streamContent(w, r, id)
}

func (g *gateway) streamContent(w http.ResponseWriter, r *http.Request, id string) {
	g.mu.Lock()
	reply, ok := g.replies[id]
	g.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeChunk := func(c protocol.Chunk) bool {
		c.Timestamp = time.Now().UTC()
		data, err := json.Marshal(c)
		if err != nil {
			log.Printf("marshal chunk: %v", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Words trickle out to exercise the client's coalescing.
	words := strings.SplitAfter(reply, " ")
	chunkID := 0
	for _, word := range words {
		chunkID++
		if !writeChunk(protocol.Chunk{Type: protocol.ChunkContent, Chunk: word, ChunkID: chunkID}) {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(30 * time.Millisecond):
		}
	}
	chunkID++
	writeChunk(protocol.Chunk{Type: protocol.ChunkComplete, ChunkID: chunkID})
	log.Printf("stream complete message=%s chunks=%d", id, chunkID)
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n"
	}
	return fmt.Sprintf("Echo: **%s**\n\nI received your message and am responding with some *formatted* text.", input)
}

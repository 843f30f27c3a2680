// ABOUTME: Minimal fake agent for E2E testing - serves either wire protocol, echoes messages.
// ABOUTME: Usage: fake-agent [-addr :8089] [-protocol task|tool] [-name "Echo Agent"]
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

	"github.com/google/uuid"
)

func main() {
	addr := flag.String("addr", ":8089", "listen address")
	protocol := flag.String("protocol", "task", "wire protocol to serve: task or tool")
	name := flag.String("name", "Echo Agent", "agent display name")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	mux := http.NewServeMux()
	switch *protocol {
	case "task":
		srv := newTaskServer(*name)
		mux.HandleFunc("/.well-known/agent-card.json", srv.handleCard)
		mux.HandleFunc("/", srv.handleRPC)
	case "tool":
		srv := newToolServer()
		mux.HandleFunc("/", srv.handleRPC)
	default:
		log.Fatalf("unknown protocol %q", *protocol)
	}

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("fake-agent serving %s protocol on %s", *protocol, *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// echoReply builds the agent's answer for an incoming text.
func echoReply(text string) string {
	if text == "" {
		return "I received your message."
	}
	return "You said: " + text
}

// rpc plumbing shared by both servers

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0", "id": id,
		"error": map[string]any{"code": code, "message": msg},
	})
}

// task protocol server

type taskServer struct {
	name string

	mu    sync.Mutex
	tasks map[string]*taskRecord
}

type taskRecord struct {
	ID      string
	State   string
	History []json.RawMessage
	Latest  map[string]any
}

func newTaskServer(name string) *taskServer {
	return &taskServer{name: name, tasks: make(map[string]*taskRecord)}
}

func (s *taskServer) handleCard(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{
		"name":            s.name,
		"description":     "echoes every message back",
		"version":         "1.0.0",
		"protocolVersion": "0.3.0",
		"url":             "http://" + r.Host + "/",
	})
}

func (s *taskServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch req.Method {
	case "message/send":
		s.handleSend(w, req)
	case "tasks/get":
		s.handleGet(w, req)
	case "tasks/cancel":
		s.handleCancel(w, req)
	default:
		writeError(w, req.ID, -32601, "method not found")
	}
}

func (s *taskServer) handleSend(w http.ResponseWriter, req rpcRequest) {
	var params struct {
		Message map[string]any `json:"message"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeError(w, req.ID, -32602, "invalid params")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	taskID, _ := params.Message["taskId"].(string)
	if taskID == "" {
		taskID = uuid.New().String()
	}
	task, ok := s.tasks[taskID]
	if !ok {
		task = &taskRecord{ID: taskID, State: "submitted"}
		s.tasks[taskID] = task
	}

	params.Message["taskId"] = taskID
	incoming, _ := json.Marshal(params.Message)
	task.History = append(task.History, incoming)

	text := firstTextPart(params.Message)
	finality := messageFinality(params.Message)

	reply := map[string]any{
		"role":      "agent",
		"parts":     []map[string]any{{"kind": "text", "text": echoReply(text)}},
		"messageId": uuid.New().String(),
		"taskId":    taskID,
	}
	task.Latest = reply
	if finality == "conversation" {
		task.State = "completed"
	} else {
		task.State = "input-required"
	}

	writeResult(w, req.ID, task.wire())
}

func (s *taskServer) handleGet(w http.ResponseWriter, req rpcRequest) {
	var params struct {
		ID string `json:"id"`
	}
	json.Unmarshal(req.Params, &params)

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[params.ID]
	if !ok {
		writeError(w, req.ID, -32001, "task not found")
		return
	}
	writeResult(w, req.ID, task.wire())
}

func (s *taskServer) handleCancel(w http.ResponseWriter, req rpcRequest) {
	var params struct {
		ID string `json:"id"`
	}
	json.Unmarshal(req.Params, &params)

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[params.ID]
	if !ok {
		writeError(w, req.ID, -32001, "task not found")
		return
	}
	task.State = "canceled"
	writeResult(w, req.ID, task.wire())
}

func (t *taskRecord) wire() map[string]any {
	history := make([]json.RawMessage, len(t.History))
	copy(history, t.History)
	status := map[string]any{"state": t.State}
	if t.Latest != nil {
		status["message"] = t.Latest
	}
	return map[string]any{
		"id":      t.ID,
		"status":  status,
		"history": history,
	}
}

func firstTextPart(message map[string]any) string {
	parts, _ := message["parts"].([]any)
	for _, p := range parts {
		part, _ := p.(map[string]any)
		if part["kind"] == "text" {
			text, _ := part["text"].(string)
			return text
		}
	}
	return ""
}

func messageFinality(message map[string]any) string {
	metadata, _ := message["metadata"].(map[string]any)
	finality, _ := metadata["finality"].(string)
	return finality
}

// tool protocol server

type toolServer struct {
	mu      sync.Mutex
	threads map[string]*threadRecord
}

type threadRecord struct {
	pending []map[string]any
	ended   bool
}

func newToolServer() *toolServer {
	return &toolServer{threads: make(map[string]*threadRecord)}
}

func (s *toolServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Method != "tools/call" {
		writeError(w, req.ID, -32601, "method not found")
		return
	}

	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeError(w, req.ID, -32602, "invalid params")
		return
	}

	switch params.Name {
	case "begin_chat_thread":
		s.handleBegin(w, req.ID)
	case "send_message_to_chat_thread":
		s.handleSend(w, req.ID, params.Arguments)
	case "check_replies":
		s.handleCheckReplies(w, req.ID, params.Arguments)
	default:
		writeToolError(w, req.ID, fmt.Sprintf("unknown tool %q", params.Name))
	}
}

func (s *toolServer) handleBegin(w http.ResponseWriter, id json.RawMessage) {
	conversationID := uuid.New().String()
	s.mu.Lock()
	s.threads[conversationID] = &threadRecord{}
	s.mu.Unlock()
	writeToolResult(w, id, map[string]string{"conversationId": conversationID})
}

func (s *toolServer) handleSend(w http.ResponseWriter, id json.RawMessage, args json.RawMessage) {
	var sent struct {
		ConversationID string `json:"conversationId"`
		Message        string `json:"message"`
	}
	json.Unmarshal(args, &sent)

	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[sent.ConversationID]
	if !ok {
		writeToolError(w, id, "unknown conversation")
		return
	}
	if thread.ended {
		writeToolError(w, id, "conversation is over")
		return
	}

	// "/end" lets a test drive the conversation-over path.
	if strings.TrimSpace(sent.Message) == "/end" {
		thread.ended = true
	} else {
		thread.pending = append(thread.pending, map[string]any{
			"from": "fake-agent",
			"at":   time.Now().UTC().Format(time.RFC3339),
			"text": echoReply(sent.Message),
		})
	}
	writeToolResult(w, id, map[string]string{"ok": "true"})
}

func (s *toolServer) handleCheckReplies(w http.ResponseWriter, id json.RawMessage, args json.RawMessage) {
	var sent struct {
		ConversationID string `json:"conversationId"`
		WaitMs         int64  `json:"waitMs"`
	}
	json.Unmarshal(args, &sent)

	deadline := time.Now().Add(time.Duration(sent.WaitMs) * time.Millisecond)
	for {
		s.mu.Lock()
		thread, ok := s.threads[sent.ConversationID]
		if !ok {
			s.mu.Unlock()
			writeToolError(w, id, "unknown conversation")
			return
		}
		if len(thread.pending) > 0 || thread.ended || time.Now().After(deadline) {
			messages := thread.pending
			thread.pending = nil
			ended := thread.ended
			s.mu.Unlock()

			if messages == nil {
				messages = []map[string]any{}
			}
			writeToolResult(w, id, map[string]any{
				"messages":           messages,
				"status":             "working",
				"conversation_ended": ended,
			})
			return
		}
		s.mu.Unlock()
		time.Sleep(100 * time.Millisecond)
	}
}

func writeToolResult(w http.ResponseWriter, id json.RawMessage, payload any) {
	text, _ := json.Marshal(payload)
	writeResult(w, id, map[string]any{
		"content": []map[string]string{{"type": "text", "text": string(text)}},
	})
}

func writeToolError(w http.ResponseWriter, id json.RawMessage, msg string) {
	writeResult(w, id, map[string]any{
		"isError": true,
		"content": []map[string]string{{"type": "text", "text": msg}},
	})
}

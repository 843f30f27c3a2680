// ABOUTME: JSON-RPC 2.0 reference client for the task protocol
// ABOUTME: Implements message/send, tasks/get, tasks/cancel, and a poll-based change feed

package taskbridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmandel/banterop-bridge/internal/convo"
)

// taskNotFoundCode is the protocol's error code for unknown task IDs.
const taskNotFoundCode = -32001

// HTTPConfig configures the reference client.
type HTTPConfig struct {
	// Endpoint is the JSON-RPC URL of the remote agent.
	Endpoint string
	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client
	// PollInterval paces the Subscribe change feed. Defaults to 2s.
	PollInterval time.Duration
}

// HTTPClient speaks the task protocol over JSON-RPC 2.0.
type HTTPClient struct {
	endpoint     string
	hc           *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
	nextID       atomic.Int64
}

// NewHTTPClient creates a client for the given endpoint.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &HTTPClient{
		endpoint:     cfg.Endpoint,
		hc:           hc,
		pollInterval: interval,
		logger:       logger.With("component", "taskbridge.http"),
	}
}

// wire shapes

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type wirePart struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	File *wireFile      `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

type wireFile struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"` // base64
	URI      string `json:"uri,omitempty"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Parts     []wirePart     `json:"parts"`
	MessageID string         `json:"messageId"`
	TaskID    string         `json:"taskId,omitempty"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type wireStatus struct {
	State   string       `json:"state"`
	Message *wireMessage `json:"message,omitempty"`
}

type wireTask struct {
	ID        string        `json:"id"`
	ContextID string        `json:"contextId,omitempty"`
	Status    wireStatus    `json:"status"`
	History   []wireMessage `json:"history,omitempty"`
}

// SendMessage implements Client via the message/send method.
func (c *HTTPClient) SendMessage(ctx context.Context, params SendParams) (*Task, error) {
	msg := wireMessage{
		Role:      string(convo.RoleUser),
		Parts:     encodeParts(params.Parts),
		MessageID: params.MessageID,
		TaskID:    params.TaskID,
		Metadata:  params.Metadata,
	}
	var task wireTask
	err := c.call(ctx, "message/send", map[string]any{
		"message": msg,
		"configuration": map[string]any{
			"historyLength": maxHistoryLength,
		},
	}, &task)
	if err != nil {
		return nil, err
	}
	return decodeTask(&task), nil
}

// GetTask implements Client via the tasks/get method.
func (c *HTTPClient) GetTask(ctx context.Context, taskID string, historyLength int) (*Task, error) {
	var task wireTask
	err := c.call(ctx, "tasks/get", map[string]any{
		"id":            taskID,
		"historyLength": historyLength,
	}, &task)
	if err != nil {
		return nil, err
	}
	return decodeTask(&task), nil
}

// CancelTask implements Client via the tasks/cancel method.
func (c *HTTPClient) CancelTask(ctx context.Context, taskID string) error {
	var task wireTask
	return c.call(ctx, "tasks/cancel", map[string]any{"id": taskID}, &task)
}

// Subscribe synthesizes a change feed by polling tasks/get and emitting
// when the observed fingerprint moves. The stream ends after a terminal
// state has been delivered, or when ctx fires.
func (c *HTTPClient) Subscribe(ctx context.Context, taskID string) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)

		var last string
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			task, err := c.GetTask(ctx, taskID, maxHistoryLength)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Debug("poll failed", "task_id", taskID, "error", err)
				continue
			}

			fp := fingerprint(task)
			if fp == last {
				continue
			}
			last = fp

			select {
			case ch <- struct{}{}:
			default:
			}

			if task.Status.State.Terminal() {
				return
			}
		}
	}()

	return ch, nil
}

// fingerprint summarizes the observable task state for change detection.
func fingerprint(task *Task) string {
	var b strings.Builder
	b.WriteString(string(task.Status.State))
	b.WriteByte('|')
	if task.Status.Message != nil {
		b.WriteString(task.Status.Message.MessageID)
	}
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", len(task.History))
	return b.String()
}

// call performs one JSON-RPC round trip.
func (c *HTTPClient) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if envelope.Error != nil {
		if envelope.Error.Code == taskNotFoundCode {
			return ErrTaskNotFound
		}
		return fmt.Errorf("%s: %w", method, envelope.Error)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("%s: decoding result: %w", method, err)
		}
	}
	return nil
}

// encodeParts converts model parts to the wire representation.
func encodeParts(parts []convo.Part) []wirePart {
	out := make([]wirePart, 0, len(parts))
	for _, p := range parts {
		wp := wirePart{Kind: string(p.Kind)}
		switch p.Kind {
		case convo.PartKindText:
			wp.Text = p.Text
		case convo.PartKindFile:
			wf := &wireFile{Name: p.File.Name, MimeType: p.File.MimeType, URI: p.File.URI}
			if len(p.File.Bytes) > 0 {
				wf.Bytes = base64.StdEncoding.EncodeToString(p.File.Bytes)
			}
			wp.File = wf
		case convo.PartKindData:
			wp.Data = p.Data
		}
		out = append(out, wp)
	}
	return out
}

// decodeParts converts wire parts back to the model, degrading a part
// whose inline content is unparseable rather than failing the message.
func decodeParts(parts []wirePart) []convo.Part {
	out := make([]convo.Part, 0, len(parts))
	for _, wp := range parts {
		switch convo.PartKind(wp.Kind) {
		case convo.PartKindText:
			out = append(out, convo.TextPart(wp.Text))
		case convo.PartKindFile:
			if wp.File == nil {
				continue
			}
			if wp.File.URI != "" {
				out = append(out, convo.FileRefPart(wp.File.Name, wp.File.MimeType, wp.File.URI))
				continue
			}
			data, err := base64.StdEncoding.DecodeString(wp.File.Bytes)
			if err != nil {
				data = nil
			}
			out = append(out, convo.FilePart(wp.File.Name, wp.File.MimeType, data))
		case convo.PartKindData:
			out = append(out, convo.DataPart(wp.Data))
		}
	}
	return out
}

func decodeMessage(wm *wireMessage) *convo.Message {
	if wm == nil {
		return nil
	}
	return &convo.Message{
		Role:      convo.Role(wm.Role),
		Parts:     decodeParts(wm.Parts),
		MessageID: wm.MessageID,
		TaskID:    wm.TaskID,
		ContextID: wm.ContextID,
	}
}

func decodeTask(wt *wireTask) *Task {
	task := &Task{
		ID:        wt.ID,
		ContextID: wt.ContextID,
		Status: convo.Status{
			State:   convo.ParseState(wt.Status.State),
			Message: decodeMessage(wt.Status.Message),
		},
	}
	for i := range wt.History {
		task.History = append(task.History, *decodeMessage(&wt.History[i]))
	}
	return task
}

// Ensure HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

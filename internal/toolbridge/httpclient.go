// ABOUTME: JSON-RPC tools/call reference client for the tool-call protocol
// ABOUTME: Tool results carry their payload as JSON inside the first text content block

package toolbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	toolBegin        = "begin_chat_thread"
	toolSend         = "send_message_to_chat_thread"
	toolCheckReplies = "check_replies"
)

// HTTPConfig configures the reference client.
type HTTPConfig struct {
	// Endpoint is the JSON-RPC URL of the remote tool server.
	Endpoint string
	// HTTPClient defaults to a client with a 90s timeout, long enough to
	// cover a full check-replies wait budget.
	HTTPClient *http.Client
}

// HTTPClient speaks the tool-call protocol: every operation is a
// tools/call invocation whose result is JSON folded into a text block.
type HTTPClient struct {
	endpoint string
	hc       *http.Client
	logger   *slog.Logger
	nextID   atomic.Int64
}

// NewHTTPClient creates a client for the given endpoint.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 90 * time.Second}
	}
	return &HTTPClient{
		endpoint: cfg.Endpoint,
		hc:       hc,
		logger:   logger.With("component", "toolbridge.http"),
	}
}

// wire envelopes

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

type toolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Begin implements Client via the begin tool.
func (c *HTTPClient) Begin(ctx context.Context) (string, error) {
	var out struct {
		ConversationID string `json:"conversationId"`
	}
	if err := c.callTool(ctx, toolBegin, map[string]any{}, &out); err != nil {
		return "", err
	}
	if out.ConversationID == "" {
		return "", fmt.Errorf("%s: empty conversation id", toolBegin)
	}
	return out.ConversationID, nil
}

// Send implements Client via the send tool.
func (c *HTTPClient) Send(ctx context.Context, conversationID, text string, attachments []Attachment) error {
	args := map[string]any{
		"conversationId": conversationID,
		"message":        text,
	}
	if len(attachments) > 0 {
		args["attachments"] = attachments
	}
	return c.callTool(ctx, toolSend, args, nil)
}

// CheckReplies implements Client via the check-replies tool. The server
// holds the request open up to the wait budget when nothing is pending.
func (c *HTTPClient) CheckReplies(ctx context.Context, conversationID string, wait time.Duration) (*Replies, error) {
	var out Replies
	err := c.callTool(ctx, toolCheckReplies, map[string]any{
		"conversationId": conversationID,
		"waitMs":         wait.Milliseconds(),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// callTool performs one tools/call round trip and decodes the payload
// carried in the result's first text block.
func (c *HTTPClient) callTool(ctx context.Context, name string, args, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  "tools/call",
		Params: map[string]any{
			"name":      name,
			"arguments": args,
		},
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
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decoding response: %w", name, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s: %w", name, envelope.Error)
	}

	var tr toolResult
	if err := json.Unmarshal(envelope.Result, &tr); err != nil {
		return fmt.Errorf("%s: decoding result: %w", name, err)
	}
	if tr.IsError {
		return fmt.Errorf("%s: %s", name, firstText(tr))
	}
	if result == nil {
		return nil
	}

	payload := firstText(tr)
	if payload == "" {
		return fmt.Errorf("%s: result carried no text content", name)
	}
	if err := json.Unmarshal([]byte(payload), result); err != nil {
		return fmt.Errorf("%s: decoding payload: %w", name, err)
	}
	return nil
}

// firstText returns the first text block of a tool result.
func firstText(tr toolResult) string {
	for _, c := range tr.Content {
		if c.Type == "text" {
			return c.Text
		}
	}
	return ""
}

// Ensure HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

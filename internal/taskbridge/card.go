// ABOUTME: Agent card discovery for task-protocol endpoints
// ABOUTME: Tries the well-known card locations and tolerates older cards without a version

package taskbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// AgentCard is the remote agent's self-description.
type AgentCard struct {
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	Version            string `json:"version"`
	ProtocolVersion    string `json:"protocolVersion,omitempty"`
	PreferredTransport string `json:"preferredTransport,omitempty"`
	URL                string `json:"url,omitempty"`
}

// cardURLs lists candidate card locations for an endpoint, most specific
// first.
func cardURLs(endpoint string) []string {
	var urls []string
	if idx := strings.LastIndex(endpoint, "/a2a"); idx >= 0 {
		urls = append(urls, endpoint[:idx]+"/.well-known/agent-card.json")
	}
	urls = append(urls, strings.TrimSuffix(endpoint, "/")+"/.well-known/agent-card.json")
	return urls
}

// FetchAgentCard retrieves the agent card advertised by the endpoint.
// Cards missing a version are accepted with a placeholder.
func (c *HTTPClient) FetchAgentCard(ctx context.Context) (*AgentCard, error) {
	var lastErr error
	for _, url := range cardURLs(c.endpoint) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("fetching agent card: status %d from %s", resp.StatusCode, url)
			continue
		}

		var card AgentCard
		err = json.NewDecoder(resp.Body).Decode(&card)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("decoding agent card: %w", err)
			continue
		}
		if card.Version == "" {
			card.Version = "1.0.0"
		}
		c.logger.Debug("agent card fetched", "url", url, "name", card.Name)
		return &card, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no agent card candidates for %s", c.endpoint)
	}
	return nil, lastErr
}

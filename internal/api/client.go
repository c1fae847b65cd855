// Package api is the HTTP client for the generation service. It is a
// thin typed wrapper: all control flow (gating, polling, grouping)
// lives in the workflow and timeline packages.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dokimi/internal/conversation"
	"dokimi/internal/workflow"
)

const defaultTimeout = 30 * time.Second

// Client talks to one service base URL. Safe for concurrent use.
type Client struct {
	base string
	http *http.Client
	log  zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger replaces the default disabled logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient builds a client for the given base URL (no trailing slash).
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		base: base,
		http: &http.Client{Timeout: defaultTimeout},
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConversationLog fetches the raw append-only log. Order is not
// guaranteed by the store; the timeline builder sorts.
func (c *Client) ConversationLog(ctx context.Context, conversationID string) ([]conversation.LogEntry, error) {
	return getJSON[[]conversation.LogEntry](ctx, c, "/conversations/"+conversationID+"/log")
}

// ConversationStatus fetches the conversation-level turn status.
func (c *Client) ConversationStatus(ctx context.Context, conversationID string) (TurnStatus, error) {
	return getJSON[TurnStatus](ctx, c, "/conversations/"+conversationID+"/status")
}

// GenerationStatus fetches one kind's background-job status. Implements
// workflow.JobClient.
func (c *Client) GenerationStatus(ctx context.Context, kind workflow.Kind, conversationID string) (workflow.JobStatus, error) {
	wire, err := getJSON[generationStatusWire](ctx, c, "/"+string(kind)+"/"+conversationID+"/status")
	if err != nil {
		return workflow.JobStatus{}, err
	}
	status := workflow.JobStatus{Confirmed: wire.Confirmed}
	switch kind {
	case workflow.KindRequirements:
		status.State = wire.RequirementGeneration
	case workflow.KindScenarios:
		status.State = wire.ScenarioGeneration
	case workflow.KindTestCases:
		status.State = wire.TestCaseGeneration
	}
	if wire.TotalInserted != nil {
		status.TotalInserted = *wire.TotalInserted
		status.HasTotal = true
	}
	return status, nil
}

// StartGeneration kicks off one kind's background job. Implements
// workflow.JobClient; the orchestrator guarantees at most one call per
// confirmation.
func (c *Client) StartGeneration(ctx context.Context, kind workflow.Kind, conversationID string) error {
	return c.postJSON(ctx, "/"+string(kind)+"/"+conversationID+"/generate", nil)
}

// FileContent fetches the extracted pages of one uploaded file.
func (c *Client) FileContent(ctx context.Context, fileID string) (FileContent, error) {
	return getJSON[FileContent](ctx, c, "/files/content/"+fileID)
}

// Requirements fetches the generated requirement set for a conversation.
func (c *Client) Requirements(ctx context.Context, conversationID string) ([]Requirement, error) {
	return getJSON[[]Requirement](ctx, c, "/requirements/"+conversationID+"/list")
}

// Scenarios fetches the generated scenario set for a conversation.
func (c *Client) Scenarios(ctx context.Context, conversationID string) ([]Scenario, error) {
	return getJSON[[]Scenario](ctx, c, "/scenarios/"+conversationID+"/list")
}

// TestCases fetches the generated test case set for a conversation.
func (c *Client) TestCases(ctx context.Context, conversationID string) ([]TestCase, error) {
	return getJSON[[]TestCase](ctx, c, "/testcases/"+conversationID+"/list")
}

// FetchArtifact dispatches a timeline marker to the fetch matching its
// artifact kind. Satisfies timeline.FetchFunc.
func (c *Client) FetchArtifact(ctx context.Context, marker conversation.Marker) (any, error) {
	switch marker.ArtifactKind {
	case conversation.ArtifactFile:
		return c.FileContent(ctx, marker.ArtifactRef)
	case conversation.ArtifactRequirements:
		return c.Requirements(ctx, marker.ConversationRef)
	case conversation.ArtifactScenarios:
		return c.Scenarios(ctx, marker.ConversationRef)
	case conversation.ArtifactTestCases:
		return c.TestCases(ctx, marker.ConversationRef)
	}
	return nil, fmt.Errorf("unknown artifact kind %q", marker.ArtifactKind)
}

// PostMessage appends a user turn and triggers assistant processing.
// The idempotency key lets the service drop duplicate sends from
// flaky-network retries.
func (c *Client) PostMessage(ctx context.Context, conversationID, text string, attachment *conversation.Attachment) error {
	body := map[string]any{
		"text":            text,
		"idempotency_key": uuid.NewString(),
	}
	if attachment != nil {
		body["attachment"] = attachment
	}
	return c.postJSON(ctx, "/conversations/"+conversationID+"/message", body)
}

func getJSON[T any](ctx context.Context, c *Client, path string) (T, error) {
	var out T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return out, fmt.Errorf("build GET %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, fmt.Errorf("GET %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode GET %s: %w", path, err)
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode POST %s: %w", path, err)
		}
		payload = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, payload)
	if err != nil {
		return fmt.Errorf("build POST %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s: unexpected status %s", path, resp.Status)
	}
	return nil
}

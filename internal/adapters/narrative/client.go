// Package narrative asks a chat-completions model to explain an assessment
// in plain language. Narratives are decoration: they never change scores.
package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

// ErrUnavailable reports that no narrative could be produced.
var ErrUnavailable = errors.New("narrative unavailable")

const (
	defaultBaseURL     = "https://api.groq.com/openai/v1"
	defaultModel       = "llama-3.3-70b-versatile"
	defaultTemperature = 0.3
	defaultMaxTokens   = 800

	systemPrompt = "You are an experienced predictive maintenance engineer for foundries and sugar mills. " +
		"You explain sensor trends to plant owners in plain language."
)

// Request carries the assessment to explain.
type Request struct {
	Assessment model.RiskAssessment
	State      model.State
}

// Generator produces narrative text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithModel selects the model name.
func WithModel(m string) ClientOption {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// Client talks to an OpenAI-compatible chat-completions API.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	http      *http.Client
}

// NewClient creates a client authenticating with apiKey.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   defaultBaseURL,
		apiKey:    apiKey,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate requests a narrative. Every failure wraps ErrUnavailable.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: Prompt(req)},
		},
		Temperature: defaultTemperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: status %d: decode: %w", ErrUnavailable, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Prompt renders the baseline against current statistics of each scored channel.
func Prompt(req Request) string {
	a := req.Assessment
	var b strings.Builder
	fmt.Fprintf(&b, "Machine %s is in state %s with risk score %.1f/100 at %s.\n\n",
		a.MachineID, req.State, a.Score, a.Timestamp.UTC().Format(time.RFC3339))

	channels := make([]string, 0, len(a.Windows))
	for ch := range a.Windows {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		w, base := a.Windows[ch], a.Baselines[ch]
		fmt.Fprintf(&b, "%s:\n", ch)
		fmt.Fprintf(&b, "  Baseline average: %.3f (stddev %.3f, %d samples)\n", base.Mean, base.StdDev, base.Samples)
		fmt.Fprintf(&b, "  Current average: %.3f, last %.3f, trend %+.5f per second\n", w.Mean, w.Last, w.Slope)
		fmt.Fprintf(&b, "  Normalized deviation: %.2f\n", a.Deviations[ch])
	}
	if a.InsufficientBaseline {
		b.WriteString("Not enough history exists to compare against a baseline.\n")
	}
	b.WriteString("\nExplain in two short paragraphs what is likely wearing out, what happens if it is ignored, " +
		"and the first inspection to perform.")
	return b.String()
}

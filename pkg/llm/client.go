// Package llm calls an OpenAI-compatible chat completions endpoint to
// classify, summarise or extract from document text. Every call is bounded
// by a per-attempt timeout and a small number of retries.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/archivum/docflow/pkg/apperr"
)

// Task selects the prompt sent with the document text.
type Task string

const (
	TaskClassify  Task = "classify"
	TaskSummarize Task = "summarize"
	TaskExtract   Task = "extract"
)

var systemPrompts = map[Task]string{
	TaskClassify: "You label business documents. Reply with a JSON array of at most 8 short lowercase tags " +
		"(department, document type, confidentiality). Reply with the array only.",
	TaskSummarize: "Summarise the document in at most three sentences.",
	TaskExtract: "Extract the parties, dates and amounts mentioned in the document as a JSON object " +
		"with keys parties, dates and amounts. Reply with the object only.",
}

// maxInputChars truncates document text before it is sent.
const maxInputChars = 12000

// truncateInput cuts text to at most limit bytes without splitting a rune.
func truncateInput(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// Client is safe for concurrent use.
type Client struct {
	cfg     *LLMConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a Client. It returns nil when no endpoint is configured;
// a nil *Client reports Enabled() == false.
func NewClient(cfg *LLMConfig, logger *slog.Logger) *Client {
	if cfg == nil || cfg.Endpoint == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "llm"),
	}
}

// Enabled reports whether calls can be made.
func (c *Client) Enabled() bool { return c != nil }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete runs task over text and returns the model's reply. Failures and
// timeouts surface as apperr external-service errors for "llm".
func (c *Client) Complete(ctx context.Context, task Task, text string) (string, error) {
	if !c.Enabled() {
		return "", apperr.External("llm", nil, "llm client not configured")
	}
	prompt, ok := systemPrompts[task]
	if !ok {
		return "", apperr.Validation("unknown llm task %q", task)
	}
	text = truncateInput(text, maxInputChars)
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode llm request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxElapsedTime = 0
	attempts := c.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var reply string
	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.once(ctx, body)
		if err != nil {
			c.logger.Warn("llm call failed", "task", task, "attempt", attempt, "error", err)
			return err
		}
		reply = r
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", apperr.External("llm", err, "%s failed after %d attempt(s)", task, attempt)
	}
	return reply, nil
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm endpoint returned %d: %s", e.code, e.body)
}

func (c *Client) once(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		serr := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		// Client errors other than throttling will not improve on retry.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", backoff.Permanent(serr)
		}
		return "", serr
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode llm response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", backoff.Permanent(errors.New("llm response has no choices"))
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Classify returns normalised tags for text.
func (c *Client) Classify(ctx context.Context, text string) ([]string, error) {
	reply, err := c.Complete(ctx, TaskClassify, text)
	if err != nil {
		return nil, err
	}
	return ParseTags(reply), nil
}

// ParseTags accepts a JSON array or a comma/newline separated list, possibly
// wrapped in a fenced code block, and returns lowercase unique tags.
func ParseTags(reply string) []string {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	var raw []string
	if err := json.Unmarshal([]byte(reply), &raw); err != nil {
		raw = strings.FieldsFunc(reply, func(r rune) bool { return r == ',' || r == '\n' })
	}

	seen := make(map[string]bool, len(raw))
	tags := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.Trim(strings.TrimSpace(t), `"'#-* `))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}

// Tagger adapts Client to workflow tagging, timing each call out on its own.
type Tagger struct {
	Client  *Client
	Timeout time.Duration
}

// Tags classifies text; it returns an error when the client is disabled.
func (t Tagger) Tags(ctx context.Context, text string) ([]string, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	return t.Client.Classify(ctx, text)
}

package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/statement-pipeline/internal/common"
	"github.com/joseph-ayodele/statement-pipeline/internal/llm"
)

var _ llm.Completer = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float32           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Messages       []chatMessage     `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete implements llm.Completer using chat/completions in JSON mode.
// The returned text is the raw message content; callers repair and validate it.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.New().String()
	}
	start := time.Now()

	c.logger.Info("llm.complete.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"prompt_len", len(userPrompt),
	)

	body := chatRequest{
		Model:          c.cfg.Model,
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", rid).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		c.logger.Error("llm.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("openai http error: %w", err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(resp.String())
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		c.logger.Error("llm.complete.status_error",
			"req_id", rid, "status", resp.StatusCode(), "error", msg,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("openai status %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		c.logger.Error("llm.complete.no_choices",
			"req_id", rid, "raw_bytes", len(resp.Body()),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", fmt.Errorf("no choices in openai response")
	}

	choice := out.Choices[0]
	if choice.FinishReason == "length" {
		c.logger.Warn("llm.complete.truncated", "req_id", rid)
	}
	c.logger.Info("llm.complete.ok",
		"req_id", rid,
		"content_len", len(choice.Message.Content),
		"finish_reason", choice.FinishReason,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return choice.Message.Content, nil
}

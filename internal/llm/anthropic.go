// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm answers dispatch prompts with a generative model that can call
// the tools of the addressed MCP server.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	flintlog "github.com/tombee/flint/internal/log"
	"github.com/tombee/flint/internal/mcp"
	pkgerrors "github.com/tombee/flint/pkg/errors"
)

// Defaults for Config.
const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 4096
	DefaultMaxTurns  = 10
)

// ErrTooManyTurns is returned when the model keeps requesting tools past
// the turn limit.
var ErrTooManyTurns = errors.New("model did not finish within the tool turn limit")

// MessageSender is the part of the Anthropic client the completer uses.
// *anthropic.MessageService satisfies it.
type MessageSender interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Config configures the Anthropic completer.
type Config struct {
	APIKey string
	Model  string

	// System is prepended to every conversation as the system prompt.
	System string

	MaxTokens int64
	MaxTurns  int
	Retry     RetryConfig
	Logger    *slog.Logger
}

// Completer implements mcp.Completer on the Anthropic messages API. It runs a
// tool-use loop: every tool the model asks for is called on the server the
// request was dispatched to.
type Completer struct {
	sender    MessageSender
	model     string
	system    string
	maxTokens int64
	maxTurns  int
	retry     RetryConfig
	logger    *slog.Logger
}

// NewCompleter creates a completer backed by the Anthropic API.
func NewCompleter(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, &pkgerrors.ConfigError{Key: "ANTHROPIC_API_KEY", Reason: "is not set"}
	}
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	)
	return NewCompleterWithSender(&client.Messages, cfg), nil
}

// NewCompleterWithSender creates a completer on an existing sender.
func NewCompleterWithSender(sender MessageSender, cfg Config) *Completer {
	c := &Completer{
		sender:    sender,
		model:     cfg.Model,
		system:    cfg.System,
		maxTokens: cfg.MaxTokens,
		maxTurns:  cfg.MaxTurns,
		retry:     cfg.Retry,
		logger:    cfg.Logger,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.maxTurns <= 0 {
		c.maxTurns = DefaultMaxTurns
	}
	if c.retry.Multiplier == 0 {
		c.retry = DefaultRetryConfig()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = flintlog.WithComponent(c.logger, "llm")
	return c
}

// Complete implements mcp.Completer.
func (c *Completer) Complete(ctx context.Context, req mcp.CompletionRequest, tools mcp.ToolSession) (*mcp.Completion, error) {
	defs, err := tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Tools: toolParams(defs),
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}

	logger := c.logger.With(
		slog.String(flintlog.ServerKey, req.Server),
		slog.String(flintlog.RequestIDKey, req.RequestID),
	)

	out := &mcp.Completion{}
	for turn := 0; turn < c.maxTurns; turn++ {
		msg, err := withRetry(ctx, c.retry, func(ctx context.Context) (*anthropic.Message, error) {
			return c.sender.New(ctx, params)
		})
		if err != nil {
			return nil, err
		}

		var (
			text strings.Builder
			uses []anthropic.ToolUseBlock
		)
		for _, block := range msg.Content {
			switch v := block.AsAny().(type) {
			case anthropic.TextBlock:
				text.WriteString(v.Text)
			case anthropic.ToolUseBlock:
				uses = append(uses, v)
			}
		}

		if msg.StopReason != anthropic.StopReasonToolUse || len(uses) == 0 {
			out.Text = strings.TrimSpace(text.String())
			logger.Debug("completion finished",
				"turns", turn+1,
				"input_tokens", msg.Usage.InputTokens,
				"output_tokens", msg.Usage.OutputTokens,
			)
			return out, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())

		results := make([]anthropic.ContentBlockParamUnion, 0, len(uses))
		for _, use := range uses {
			var args map[string]any
			if len(use.Input) > 0 {
				if err := json.Unmarshal(use.Input, &args); err != nil {
					return nil, fmt.Errorf("decoding arguments for tool %s: %w", use.Name, err)
				}
			}

			logger.Debug("calling tool", "tool", use.Name)
			resp, err := tools.CallTool(ctx, mcp.ToolCallRequest{Name: use.Name, Arguments: args})
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", use.Name, err)
			}
			for _, item := range resp.Content {
				if item.URI != "" {
					out.Citations = appendUnique(out.Citations, item.URI)
				}
			}
			results = append(results, anthropic.NewToolResultBlock(use.ID, resp.Text(), resp.IsError))
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(results...))
	}

	return nil, fmt.Errorf("%w (%d turns)", ErrTooManyTurns, c.maxTurns)
}

func toolParams(defs []mcp.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if len(d.InputSchema) > 0 {
			_ = json.Unmarshal(d.InputSchema, &schema)
		}
		if schema.Properties == nil {
			schema.Properties = map[string]any{}
		}

		tool := &anthropic.ToolParam{
			Name:        d.Name,
			InputSchema: anthropic.ToolInputSchemaParam{Properties: schema.Properties, Required: schema.Required},
		}
		if d.Description != "" {
			tool.Description = anthropic.String(d.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: tool})
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// Unconfigured is the completer used when no model credentials are set.
// Every dispatch fails with a configuration error.
type Unconfigured struct{}

// Complete implements mcp.Completer.
func (Unconfigured) Complete(context.Context, mcp.CompletionRequest, mcp.ToolSession) (*mcp.Completion, error) {
	return nil, &pkgerrors.ConfigError{Key: "ANTHROPIC_API_KEY", Reason: "is not set; dispatch needs a completion provider"}
}

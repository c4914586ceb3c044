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

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"reflect"
	"unsafe"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ClientName and ClientVersion are reported to servers during initialize.
var (
	ClientName    = "flint"
	ClientVersion = "dev"
)

// Client is a stdio Session backed by mcp-go. mcp-go correlates responses
// to requests by JSON-RPC id, so concurrent calls on one Client are safe.
type Client struct {
	serverName string
	client     *client.Client
	process    *os.Process
}

// DialStdio is the Dialer for TransportStdio.
func DialStdio(ctx context.Context, desc ServerDescriptor) (Session, error) {
	if desc.Transport != TransportStdio {
		return nil, fmt.Errorf("transport %q is not supported by the stdio dialer", desc.Transport)
	}
	if desc.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	mcpClient, err := client.NewStdioMCPClient(desc.Command, desc.EnvList(), desc.Args...)
	if err != nil {
		return nil, ErrStartFailed(desc.Name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return nil, ErrStartFailed(desc.Name, err)
	}

	return &Client{
		serverName: desc.Name,
		client:     mcpClient,
		process:    extractProcess(mcpClient),
	}, nil
}

// extractProcess digs the *os.Process out of the stdio transport so the pool
// can signal it directly. Returns nil when the transport layout differs.
func extractProcess(mcpClient *client.Client) *os.Process {
	transport := mcpClient.GetTransport()
	if transport == nil {
		return nil
	}

	v := reflect.ValueOf(transport)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	cmdType := reflect.TypeOf((*exec.Cmd)(nil))
	for _, name := range []string{"Cmd", "cmd"} {
		field := v.FieldByName(name)
		if !field.IsValid() || field.Type() != cmdType || field.IsNil() {
			continue
		}
		// The field may be unexported, so read it through its address.
		cmd := (*exec.Cmd)(unsafe.Pointer(field.Pointer()))
		return cmd.Process
	}
	return nil
}

// Initialize implements Session.
func (c *Client) Initialize(ctx context.Context) (*ServerCapabilities, error) {
	req := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    ClientName,
				Version: ClientVersion,
			},
		},
	}
	if _, err := c.client.Initialize(ctx, req); err != nil {
		return nil, fmt.Errorf("initialize request failed: %w", err)
	}

	caps := c.client.GetServerCapabilities()
	return &ServerCapabilities{
		Tools:     caps.Tools != nil,
		Resources: caps.Resources != nil,
		Prompts:   caps.Prompts != nil,
	}, nil
}

// ListTools implements Session.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]ToolDefinition, len(result.Tools))
	for i, tool := range result.Tools {
		schema := tool.RawInputSchema
		if len(schema) == 0 {
			schema, err = json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
			}
		}
		tools[i] = ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}
	}
	return tools, nil
}

// CallTool implements Session. The caller's context carries the deadline.
func (c *Client) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call %s failed: %w", req.Name, err)
	}

	resp := &ToolCallResponse{
		IsError: result.IsError,
		Content: make([]ContentItem, 0, len(result.Content)),
	}
	for _, content := range result.Content {
		item, err := convertContent(content)
		if err != nil {
			return nil, err
		}
		resp.Content = append(resp.Content, item)
	}
	return resp, nil
}

func convertContent(content mcp.Content) (ContentItem, error) {
	if text, ok := mcp.AsTextContent(content); ok {
		return ContentItem{Type: text.Type, Text: text.Text}, nil
	}
	if image, ok := mcp.AsImageContent(content); ok {
		return ContentItem{Type: image.Type, Data: image.Data, MimeType: image.MIMEType}, nil
	}

	// Embedded resources and links: fall back to the wire shape.
	raw, err := json.Marshal(content)
	if err != nil {
		return ContentItem{}, fmt.Errorf("failed to marshal content: %w", err)
	}
	var wire struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		URI      string `json:"uri"`
		MimeType string `json:"mimeType"`
		Resource *struct {
			URI      string `json:"uri"`
			Text     string `json:"text"`
			MimeType string `json:"mimeType"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ContentItem{}, fmt.Errorf("malformed content item: %w", err)
	}

	item := ContentItem{Type: wire.Type, Text: wire.Text, URI: wire.URI, MimeType: wire.MimeType}
	if wire.Resource != nil {
		item.URI = wire.Resource.URI
		item.MimeType = wire.Resource.MimeType
		if item.Text == "" {
			item.Text = wire.Resource.Text
		}
	}
	return item, nil
}

// Ping implements Session.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		if err == io.EOF {
			return ErrConnectionClosed(c.serverName)
		}
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close implements Session.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	return nil
}

// PID implements Session.
func (c *Client) PID() int {
	if c.process == nil {
		return 0
	}
	return c.process.Pid
}

// ServerName returns the descriptor name this client was dialed for.
func (c *Client) ServerName() string {
	return c.serverName
}

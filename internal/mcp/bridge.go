// Package mcp exposes the capability registry as MCP tools, so any standard
// MCP client can invoke run_sql_query without speaking the session-channel
// protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/askdb/askdb/internal/capability"
	"github.com/askdb/askdb/internal/wire"

	"github.com/google/uuid"
)

// NewServer creates an MCPServer with every registered capability exposed
// as a tool.
func NewServer(caps *capability.Registry) *server.MCPServer {
	srv := server.NewMCPServer(
		"askdb",
		"0.1.0",
		server.WithToolCapabilities(true),
	)
	for _, desc := range caps.Describe() {
		registerTool(srv, caps, desc)
	}
	return srv
}

func registerTool(srv *server.MCPServer, caps *capability.Registry, desc capability.Descriptor) {
	schemaJSON, _ := json.Marshal(inputSchema(desc))
	tool := mcpgo.NewToolWithRawSchema(desc.Name, desc.Description, schemaJSON)

	name := desc.Name
	srv.AddTool(tool, func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		result := caps.Invoke(ctx, uuid.NewString(), name, req.GetArguments())
		if result.Failed() {
			return mcpgo.NewToolResultError(fmt.Sprintf("%s: %s", result.Error.Kind, result.Error.Message)), nil
		}
		text, err := marshalResult(result)
		if err != nil {
			return mcpgo.NewToolResultError(fmt.Sprintf("%s: %v", name, err)), nil
		}
		return mcpgo.NewToolResultText(text), nil
	})
}

func inputSchema(desc capability.Descriptor) map[string]any {
	properties := make(map[string]any, len(desc.Parameters))
	var required []string
	for pname, spec := range desc.Parameters {
		properties[pname] = map[string]string{
			"type":        spec.Type,
			"description": spec.Description,
		}
		if spec.Required {
			required = append(required, pname)
		}
	}
	sort.Strings(required)
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func marshalResult(result wire.InvocationResult) (string, error) {
	data, err := json.Marshal(map[string]any{
		"columns": result.Columns,
		"rows":    result.Rows,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lectura-app/ai-service/pkg/llms"
)

type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

type ToolParameter struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Required    bool                   `json:"required"`
	Default     interface{}            `json:"default,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Items       map[string]interface{} `json:"items,omitempty"`
}

type ToolResult struct {
	Success       bool                   `json:"success"`
	Content       string                 `json:"content,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ToolName      string                 `json:"tool_name"`
	ExecutionTime time.Duration          `json:"execution_time,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Tool is a capability the conversation agent can invoke. Execute
// never returns a non-nil error: failures are encoded in the result
// payload so the model can see and react to them.
type Tool interface {
	GetInfo() ToolInfo

	Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error)

	GetName() string

	GetDescription() string
}

// ToDefinition converts a tool description into the function-calling
// schema the chat-completions API expects.
func ToDefinition(info ToolInfo) llms.ToolDefinition {
	properties := make(map[string]interface{}, len(info.Parameters))
	var required []string

	for _, p := range info.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = p.Items
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	parameters := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		parameters["required"] = required
	}

	return llms.ToolDefinition{
		Type: "function",
		Function: llms.FunctionDef{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  parameters,
		},
	}
}

// payload is the JSON body every tool writes into its tool message.
type payload struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Results []interface{} `json:"results"`
}

func successResult(name string, results []interface{}, started time.Time) ToolResult {
	content, _ := json.Marshal(payload{Success: true, Results: results})
	return ToolResult{
		Success:       true,
		Content:       string(content),
		ToolName:      name,
		ExecutionTime: time.Since(started),
		Metadata:      map[string]interface{}{"result_count": len(results)},
	}
}

func errorResult(name, errMsg string, started time.Time) ToolResult {
	content, _ := json.Marshal(payload{Success: false, Error: errMsg, Results: []interface{}{}})
	return ToolResult{
		Success:       false,
		Content:       string(content),
		Error:         errMsg,
		ToolName:      name,
		ExecutionTime: time.Since(started),
	}
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

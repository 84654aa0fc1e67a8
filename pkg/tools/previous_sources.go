package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lectura-app/ai-service/pkg/state"
)

const PreviousSourcesToolName = "retrieve_previous_sources"

// PreviousSourcesTool re-reads full tool payloads from the primary
// store. Replayed history carries only truncated tool summaries; this
// is how the model gets the original source content back.
type PreviousSourcesTool struct {
	manager  *state.Manager
	threadID string
}

func NewPreviousSourcesTool(manager *state.Manager, threadID string) *PreviousSourcesTool {
	return &PreviousSourcesTool{
		manager:  manager,
		threadID: threadID,
	}
}

func (t *PreviousSourcesTool) GetName() string {
	return PreviousSourcesToolName
}

func (t *PreviousSourcesTool) GetDescription() string {
	return "Retrieve the full source content of earlier tool calls in this conversation by their tool message IDs."
}

func (t *PreviousSourcesTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: t.GetDescription(),
		Parameters: []ToolParameter{
			{
				Name:        "tool_message_ids",
				Type:        "array",
				Description: "IDs of the tool messages whose full results to retrieve",
				Required:    true,
				Items:       map[string]interface{}{"type": "string"},
			},
		},
	}
}

func (t *PreviousSourcesTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	started := time.Now()

	ids := stringSliceArg(args, "tool_message_ids")
	if len(ids) == 0 {
		return errorResult(t.GetName(), "tool_message_ids parameter is required", started), nil
	}

	messages, err := t.manager.GetToolMessages(ctx, t.threadID, ids)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}

	var results []interface{}
	for _, id := range ids {
		msg, ok := messages[id]
		if !ok {
			continue
		}

		var stored payload
		if err := json.Unmarshal([]byte(msg.Content), &stored); err != nil {
			continue
		}

		for _, source := range stored.Results {
			annotated, ok := source.(map[string]interface{})
			if !ok {
				continue
			}
			annotated["from_tool_message"] = id
			results = append(results, annotated)
		}
	}
	if results == nil {
		results = []interface{}{}
	}

	return successResult(t.GetName(), results, started), nil
}

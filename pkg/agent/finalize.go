package agent

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lectura-app/ai-service/pkg/llms"
	"github.com/lectura-app/ai-service/pkg/state"
	"github.com/lectura-app/ai-service/pkg/tools"
)

// finalize extracts the answer and its citations from a finished turn.
// Only tool messages between the last user message and the final
// assistant message count, so sources from earlier queries in the same
// transcript never leak into this answer.
func finalize(turn []state.Message, snap *snapshotContext, logger *slog.Logger) (Response, map[string]state.SourceRecord) {
	finalMessage := ""
	messageID := ""
	finalIdx := -1
	for i := len(turn) - 1; i >= 0; i-- {
		if turn[i].Role == llms.RoleAssistant {
			finalMessage = turn[i].Content
			messageID = turn[i].ID
			finalIdx = i
			break
		}
	}

	start := 0
	for i := finalIdx - 1; i >= 0; i-- {
		if turn[i].Role == llms.RoleUser {
			start = i
			break
		}
	}

	var (
		ragSourceIDs []string
		webSourceIDs []string
		ragSources   = []tools.RagSource{}
		webSources   = []tools.WebSource{}
		imageSources = []state.ImageSource{}
	)

	for i := start; i < len(turn); i++ {
		msg := turn[i]
		if msg.Role != llms.RoleTool || msg.Content == "" {
			continue
		}

		var payload toolPayload
		if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
			logger.Error("unreadable tool payload during finalize",
				"tool", msg.ToolName, "error", err)
			continue
		}
		if !payload.Success {
			continue
		}

		switch msg.ToolName {
		case tools.RagSearchToolName:
			ragSourceIDs = append(ragSourceIDs, msg.ID)
			for _, raw := range payload.Results {
				var source tools.RagSource
				if decodeSource(raw, &source) {
					ragSources = append(ragSources, source)
				}
			}
		case tools.WebSearchToolName:
			webSourceIDs = append(webSourceIDs, msg.ID)
			for _, raw := range payload.Results {
				var source tools.WebSource
				if decodeSource(raw, &source) {
					webSources = append(webSources, source)
				}
			}
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)

	if snap != nil {
		imageSources = append(imageSources, state.ImageSource{
			ID:         "page",
			Type:       "current",
			SlideID:    snap.SlideID,
			PageNumber: snap.PageNumber,
			Timestamp:  now,
		})
	}

	var sources map[string]state.SourceRecord
	if messageID != "" && (len(ragSourceIDs) > 0 || len(webSourceIDs) > 0 || len(imageSources) > 0) {
		record := state.SourceRecord{
			RagSourceIDs: ragSourceIDs,
			WebSourceIDs: webSourceIDs,
			Timestamp:    now,
		}
		if snap != nil {
			record.S3Key = snap.S3Key
			record.SlideID = snap.SlideID
			record.PageNumber = snap.PageNumber
		}
		sources = map[string]state.SourceRecord{messageID: record}
	}

	return Response{
		Response:     finalMessage,
		RagSources:   ragSources,
		WebSources:   webSources,
		ImageSources: imageSources,
	}, sources
}

func decodeSource(raw map[string]interface{}, out interface{}) bool {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal(encoded, out) == nil
}

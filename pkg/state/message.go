package state

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lectura-app/ai-service/pkg/llms"
)

// Message is one persisted conversation turn. User messages are stored
// text-only: multimodal snapshot parts are built at request time and
// never enter the store.
type Message struct {
	ID         string          `bson:"id" json:"id"`
	Role       string          `bson:"role" json:"role"`
	Content    string          `bson:"content" json:"content"`
	ToolCalls  []llms.ToolCall `bson:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	ToolCallID string          `bson:"tool_call_id,omitempty" json:"tool_call_id,omitempty"`
	ToolName   string          `bson:"tool_name,omitempty" json:"tool_name,omitempty"`

	// Source annotations carried by assistant messages.
	RagSourceIDs []string     `bson:"rag_source_ids,omitempty" json:"rag_source_ids,omitempty"`
	WebSourceIDs []string     `bson:"web_source_ids,omitempty" json:"web_source_ids,omitempty"`
	ImageSource  *ImageSource `bson:"image_source,omitempty" json:"image_source,omitempty"`

	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// ImageSource records the slide snapshot an answer was grounded on.
type ImageSource struct {
	ID         string `bson:"id" json:"id"`
	Type       string `bson:"type" json:"type"`
	SlideID    string `bson:"slide_id" json:"slide_id"`
	PageNumber int    `bson:"page_number" json:"page_number"`
	S3Key      string `bson:"s3_key,omitempty" json:"s3_key,omitempty"`
	Timestamp  string `bson:"timestamp" json:"timestamp"`
}

// SourceRecord is the per-assistant-message entry of a finalize pass's
// sources map.
type SourceRecord struct {
	RagSourceIDs []string `json:"rag_source_ids"`
	WebSourceIDs []string `json:"web_source_ids"`
	S3Key        string   `json:"s3_key,omitempty"`
	SlideID      string   `json:"slide_id,omitempty"`
	PageNumber   int      `json:"page_number,omitempty"`
	Timestamp    string   `json:"timestamp"`
}

// ConversationStore is the durable side of the state manager.
type ConversationStore interface {
	// GetMessages returns the full message history, or an empty slice
	// for an unknown thread.
	GetMessages(ctx context.Context, threadID string) ([]Message, error)

	// GetRecentMessages returns at most limit trailing messages.
	GetRecentMessages(ctx context.Context, threadID string, limit int) ([]Message, error)

	// UpsertMessages replaces the thread's history.
	UpsertMessages(ctx context.Context, threadID string, messages []Message) error

	// Delete removes the thread entirely. Unknown threads are a no-op.
	Delete(ctx context.Context, threadID string) error
}

// ThreadID derives the conversation key for a user within a course.
func ThreadID(userID, courseID string) string {
	return userID + ":" + courseID
}

// SplitThreadID recovers the user and course from a thread key.
func SplitThreadID(threadID string) (userID, courseID string) {
	userID, courseID, _ = strings.Cut(threadID, ":")
	return userID, courseID
}

const truncatedToolNote = "Full results available. Use the retrieve_previous_sources tool with this message ID to access them."

// TruncateToolContent replaces a tool message's stored payload with a
// compact summary, keeping replayed history small. The full payload
// stays in the primary store for retrieve_previous_sources.
func TruncateToolContent(msg Message) Message {
	if msg.Role != llms.RoleTool {
		return msg
	}

	var payload struct {
		Success bool              `json:"success"`
		Error   string            `json:"error"`
		Results []json.RawMessage `json:"results"`
	}

	summary := map[string]interface{}{
		"tool":    msg.ToolName,
		"message": truncatedToolNote,
	}
	if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
		summary["success"] = false
		summary["error"] = "unreadable tool payload"
	} else {
		summary["success"] = payload.Success
		if payload.Error != "" {
			summary["error"] = payload.Error
		} else {
			summary["result_count"] = len(payload.Results)
		}
	}

	encoded, err := json.Marshal(summary)
	if err != nil {
		return msg
	}
	msg.Content = string(encoded)
	return msg
}

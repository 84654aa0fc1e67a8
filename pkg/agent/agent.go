package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lectura-app/ai-service/pkg/llms"
	"github.com/lectura-app/ai-service/pkg/retrieval"
	"github.com/lectura-app/ai-service/pkg/state"
	"github.com/lectura-app/ai-service/pkg/storage"
	"github.com/lectura-app/ai-service/pkg/tools"
	"github.com/lectura-app/ai-service/pkg/websearch"
)

// maxNodeVisits caps the reason/act loop per turn. Each model call and
// each tool batch counts as one visit.
const maxNodeVisits = 10

// Snapshot references a slide image the user attached to their
// question. The image itself stays in object storage.
type Snapshot struct {
	SlideID    string `json:"slide_id"`
	PageNumber int    `json:"page_number"`
	S3Key      string `json:"s3_key"`
}

// Request is one conversation turn.
type Request struct {
	CourseID       string
	UserID         string
	Prompt         string
	SlidesPriority []string
	SearchType     SearchType
	Snapshot       *Snapshot
}

// Response is the answer plus everything it cited.
type Response struct {
	Response     string              `json:"response"`
	RagSources   []tools.RagSource   `json:"rag_sources"`
	WebSources   []tools.WebSource   `json:"web_sources"`
	ImageSources []state.ImageSource `json:"image_sources"`
}

// Dependencies wires the agent to the rest of the service.
type Dependencies struct {
	LLM           llms.LLMProvider
	Retriever     *retrieval.Retriever
	WebSearch     *websearch.TavilyClient
	State         *state.Manager
	Objects       storage.ObjectStore
	WebMaxResults int
}

// Agent answers course questions with an LLM that can call retrieval
// tools. Tool availability is decided per turn by the search type, not
// by the model.
type Agent struct {
	deps   Dependencies
	logger *slog.Logger
}

func New(deps Dependencies, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{deps: deps, logger: logger}
}

// ProcessQuery runs one conversation turn end to end. Failures never
// surface as errors: the user gets an apologetic assistant message with
// no sources instead.
func (a *Agent) ProcessQuery(ctx context.Context, req Request) Response {
	resp, err := a.run(ctx, req)
	if err != nil {
		a.logger.Error("query processing failed",
			"user_id", req.UserID, "course_id", req.CourseID, "error", err)
		return Response{
			Response:     fmt.Sprintf("I encountered an error processing your request: %v", err),
			RagSources:   []tools.RagSource{},
			WebSources:   []tools.WebSource{},
			ImageSources: []state.ImageSource{},
		}
	}
	return resp
}

// snapshotContext is a request snapshot with its presigned URL
// resolved. A failed presign drops the snapshot for the whole turn.
type snapshotContext struct {
	Snapshot
	presignedURL string
}

func (a *Agent) run(ctx context.Context, req Request) (Response, error) {
	threadID := state.ThreadID(req.UserID, req.CourseID)

	snap := a.resolveSnapshot(ctx, req.Snapshot)

	history, err := a.deps.State.GetConversationHistory(ctx, threadID, state.DefaultHistoryLimit)
	if err != nil {
		return Response{}, err
	}

	toolset := a.toolsForSearchType(req.SearchType, req.CourseID, req.SlidesPriority, threadID)
	defs := make([]llms.ToolDefinition, len(toolset))
	byName := make(map[string]tools.Tool, len(toolset))
	for i, t := range toolset {
		defs[i] = tools.ToDefinition(t.GetInfo())
		byName[t.GetName()] = t
	}

	systemPrompt := buildSystemPrompt(req.SearchType, req.CourseID, req.SlidesPriority, snap != nil)

	userMsg := state.Message{
		ID:        uuid.NewString(),
		Role:      llms.RoleUser,
		Content:   req.Prompt,
		Timestamp: time.Now().UTC(),
	}
	turn := []state.Message{userMsg}

	var ragCounter, webCounter int
	visits := 0

	for {
		visits++
		if visits > maxNodeVisits {
			a.logger.Warn("reasoning loop hit visit cap", "thread", threadID, "visits", visits-1)
			break
		}

		llmMessages := buildLLMMessages(systemPrompt, history, turn, userMsg.ID, snap)
		reply, err := a.deps.LLM.Generate(ctx, llmMessages, defs)
		if err != nil {
			return Response{}, err
		}

		assistant := state.Message{
			ID:        uuid.NewString(),
			Role:      llms.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
			Timestamp: time.Now().UTC(),
		}
		turn = append(turn, assistant)

		if len(reply.ToolCalls) == 0 {
			break
		}

		visits++
		if visits > maxNodeVisits {
			a.logger.Warn("reasoning loop hit visit cap before tool execution", "thread", threadID)
			break
		}

		for _, call := range reply.ToolCalls {
			content := a.executeToolCall(ctx, byName, call, &ragCounter, &webCounter)
			turn = append(turn, state.Message{
				ID:         uuid.NewString(),
				Role:       llms.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
				ToolName:   call.Function.Name,
				Timestamp:  time.Now().UTC(),
			})
		}
	}

	resp, sources := finalize(turn, snap, a.logger)

	if err := a.deps.State.AppendMessages(ctx, threadID, turn, sources); err != nil {
		return Response{}, err
	}

	return resp, nil
}

func (a *Agent) resolveSnapshot(ctx context.Context, snap *Snapshot) *snapshotContext {
	if snap == nil || snap.S3Key == "" || a.deps.Objects == nil {
		return nil
	}

	url, err := a.deps.Objects.PresignGetURL(ctx, snap.S3Key, storage.DefaultPresignExpiry)
	if err != nil {
		a.logger.Warn("failed to presign snapshot, continuing without it",
			"s3_key", snap.S3Key, "error", err)
		return nil
	}

	return &snapshotContext{Snapshot: *snap, presignedURL: url}
}

func (a *Agent) toolsForSearchType(searchType SearchType, courseID string, slidesPriority []string, threadID string) []tools.Tool {
	var out []tools.Tool

	switch searchType {
	case SearchTypeRag:
		out = append(out, tools.NewRagSearchTool(a.deps.Retriever, courseID, slidesPriority))
	case SearchTypeWeb:
		out = append(out, tools.NewWebSearchTool(a.deps.WebSearch, a.deps.WebMaxResults))
	case SearchTypeRagWeb:
		out = append(out,
			tools.NewRagSearchTool(a.deps.Retriever, courseID, slidesPriority),
			tools.NewWebSearchTool(a.deps.WebSearch, a.deps.WebMaxResults))
	}

	out = append(out, tools.NewPreviousSourcesTool(a.deps.State, threadID))
	return out
}

// executeToolCall runs one tool call and returns the tool message
// payload. Search results get their temporary IDs replaced with
// turn-wide sequential ones so citations stay unambiguous across calls.
func (a *Agent) executeToolCall(ctx context.Context, byName map[string]tools.Tool, call llms.ToolCall, ragCounter, webCounter *int) string {
	tool, ok := byName[call.Function.Name]
	if !ok {
		return errorPayload(fmt.Sprintf("unknown tool: %s", call.Function.Name))
	}

	var args map[string]interface{}
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return errorPayload(fmt.Sprintf("invalid tool arguments: %v", err))
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return errorPayload(err.Error())
	}

	content := result.Content
	switch call.Function.Name {
	case tools.RagSearchToolName:
		content = renumberSources(content, ragCounter, a.logger)
	case tools.WebSearchToolName:
		content = renumberSources(content, webCounter, a.logger)
	}
	return content
}

// toolPayload mirrors the JSON body every tool emits.
type toolPayload struct {
	Success bool                     `json:"success"`
	Error   string                   `json:"error,omitempty"`
	Results []map[string]interface{} `json:"results"`
}

func errorPayload(msg string) string {
	raw, _ := json.Marshal(toolPayload{Success: false, Error: msg, Results: []map[string]interface{}{}})
	return string(raw)
}

// renumberSources rewrites the result IDs of a successful search
// payload in place, continuing the given counter.
func renumberSources(content string, counter *int, logger *slog.Logger) string {
	var payload toolPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		logger.Error("failed to parse tool payload for renumbering", "error", err)
		return content
	}
	if !payload.Success {
		return content
	}

	for _, source := range payload.Results {
		*counter++
		source["id"] = fmt.Sprintf("%d", *counter)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to re-encode renumbered payload", "error", err)
		return content
	}
	return string(raw)
}

// buildLLMMessages assembles the wire transcript: system prompt, then
// replayed history, then the current turn. The snapshot image is
// attached only here; the stored user message stays text-only.
func buildLLMMessages(systemPrompt string, history, turn []state.Message, userMsgID string, snap *snapshotContext) []llms.Message {
	out := make([]llms.Message, 0, 1+len(history)+len(turn))
	out = append(out, llms.Message{Role: llms.RoleSystem, Content: systemPrompt})

	for _, msg := range history {
		out = append(out, toLLMMessage(msg))
	}

	for _, msg := range turn {
		wire := toLLMMessage(msg)
		if snap != nil && msg.ID == userMsgID {
			wire.Parts = []llms.ContentPart{
				llms.TextPart(msg.Content),
				llms.ImagePart(snap.presignedURL),
			}
		}
		out = append(out, wire)
	}

	return out
}

func toLLMMessage(msg state.Message) llms.Message {
	return llms.Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
	}
}

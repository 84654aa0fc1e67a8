package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lectura-app/ai-service/pkg/llms"
)

const (
	statePrefix   = "agent_state:"
	sourcesPrefix = "agent_sources:"

	// DefaultHistoryLimit bounds how much history one turn replays.
	DefaultHistoryLimit = 50

	// maxStoredMessages caps a thread's durable history.
	maxStoredMessages = 100

	// cacheTimeout bounds every cache round trip. The cache is
	// advisory; a slow or down cache must not block the primary path.
	cacheTimeout = 2 * time.Second
)

// Manager keeps conversation state in a durable store with a
// write-through redis cache in front of it. Cache failures degrade to
// the primary store silently.
type Manager struct {
	store  ConversationStore
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewManager(store ConversationStore, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// GetConversationHistory returns the trailing history for a thread,
// with tool payloads truncated to summaries. The cache is consulted
// first; a miss reads the primary store and warms the cache.
func (m *Manager) GetConversationHistory(ctx context.Context, threadID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	if messages, ok := m.cacheGetMessages(ctx, threadID); ok {
		if len(messages) > limit {
			messages = messages[len(messages)-limit:]
		}
		return truncateToolMessages(messages), nil
	}

	messages, err := m.store.GetRecentMessages(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	m.cacheSetMessages(ctx, threadID, messages)

	return truncateToolMessages(messages), nil
}

// AppendMessages annotates the new turn's assistant messages from the
// sources map, appends the turn to the thread, caps the stored history,
// and writes primary-then-cache.
func (m *Manager) AppendMessages(ctx context.Context, threadID string, newMessages []Message, sources map[string]SourceRecord) error {
	existing, err := m.store.GetMessages(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to read existing conversation: %w", err)
	}

	annotated := make([]Message, len(newMessages))
	for i, msg := range newMessages {
		if msg.Role == llms.RoleAssistant {
			if record, ok := sources[msg.ID]; ok {
				msg = applySourceRecord(msg, record)
			}
		}
		annotated[i] = msg
	}

	combined := append(existing, annotated...)
	if len(combined) > maxStoredMessages {
		combined = combined[len(combined)-maxStoredMessages:]
	}

	if err := m.store.UpsertMessages(ctx, threadID, combined); err != nil {
		return fmt.Errorf("failed to persist conversation: %w", err)
	}

	m.cacheSetMessages(ctx, threadID, combined)
	m.cacheSetSources(ctx, threadID, sources)

	return nil
}

// GetToolMessages returns full (untruncated) tool messages by ID from
// the primary store.
func (m *Manager) GetToolMessages(ctx context.Context, threadID string, ids []string) (map[string]Message, error) {
	messages, err := m.store.GetMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	found := make(map[string]Message)
	for _, msg := range messages {
		if msg.Role == llms.RoleTool && wanted[msg.ID] {
			found[msg.ID] = msg
		}
	}

	return found, nil
}

// GetSourcesForMessages returns the source records for a set of
// assistant message IDs. The cache hash is tried first; IDs it misses
// are recovered from the annotations on the stored assistant messages,
// and the cache is warmed with whatever the primary store recovered.
// Unknown IDs are omitted from the result.
func (m *Manager) GetSourcesForMessages(ctx context.Context, threadID string, ids []string) (map[string]SourceRecord, error) {
	found := make(map[string]SourceRecord, len(ids))

	var missing []string
	for _, id := range ids {
		if record, ok := m.cacheGetSource(ctx, threadID, id); ok {
			found[id] = record
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return found, nil
	}

	messages, err := m.store.GetMessages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	wanted := make(map[string]bool, len(missing))
	for _, id := range missing {
		wanted[id] = true
	}

	recovered := make(map[string]SourceRecord)
	for _, msg := range messages {
		if msg.Role != llms.RoleAssistant || !wanted[msg.ID] {
			continue
		}
		record := SourceRecord{
			RagSourceIDs: msg.RagSourceIDs,
			WebSourceIDs: msg.WebSourceIDs,
		}
		if msg.ImageSource != nil {
			record.S3Key = msg.ImageSource.S3Key
			record.SlideID = msg.ImageSource.SlideID
			record.PageNumber = msg.ImageSource.PageNumber
			record.Timestamp = msg.ImageSource.Timestamp
		}
		recovered[msg.ID] = record
		found[msg.ID] = record
	}

	m.cacheSetSources(ctx, threadID, recovered)

	return found, nil
}

// Clear removes a thread from both stores.
func (m *Manager) Clear(ctx context.Context, threadID string) error {
	if err := m.store.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	if m.cache != nil {
		cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
		defer cancel()
		if err := m.cache.Del(cacheCtx, statePrefix+threadID, sourcesPrefix+threadID).Err(); err != nil {
			m.logger.Debug("cache delete failed", "thread", threadID, "error", err)
		}
	}

	return nil
}

func applySourceRecord(msg Message, record SourceRecord) Message {
	msg.RagSourceIDs = record.RagSourceIDs
	msg.WebSourceIDs = record.WebSourceIDs
	if record.S3Key != "" || record.SlideID != "" {
		msg.ImageSource = &ImageSource{
			ID:         "page",
			Type:       "current",
			SlideID:    record.SlideID,
			PageNumber: record.PageNumber,
			S3Key:      record.S3Key,
			Timestamp:  record.Timestamp,
		}
	}
	return msg
}

func truncateToolMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = TruncateToolContent(msg)
	}
	return out
}

func (m *Manager) cacheGetMessages(ctx context.Context, threadID string) ([]Message, bool) {
	if m.cache == nil {
		return nil, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	raw, err := m.cache.Get(cacheCtx, statePrefix+threadID).Bytes()
	if err != nil {
		if err != redis.Nil {
			m.logger.Debug("cache read failed", "thread", threadID, "error", err)
		}
		return nil, false
	}

	var messages []Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		m.logger.Debug("cache payload unreadable", "thread", threadID, "error", err)
		return nil, false
	}

	return messages, true
}

func (m *Manager) cacheSetMessages(ctx context.Context, threadID string, messages []Message) {
	if m.cache == nil {
		return
	}

	raw, err := json.Marshal(messages)
	if err != nil {
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	if err := m.cache.Set(cacheCtx, statePrefix+threadID, raw, m.ttl).Err(); err != nil {
		m.logger.Debug("cache write failed", "thread", threadID, "error", err)
	}
}

func (m *Manager) cacheGetSource(ctx context.Context, threadID, id string) (SourceRecord, bool) {
	if m.cache == nil {
		return SourceRecord{}, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	raw, err := m.cache.HGet(cacheCtx, sourcesPrefix+threadID, id).Bytes()
	if err != nil {
		if err != redis.Nil {
			m.logger.Debug("sources cache read failed", "thread", threadID, "error", err)
		}
		return SourceRecord{}, false
	}

	var record SourceRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		m.logger.Debug("sources cache payload unreadable", "thread", threadID, "error", err)
		return SourceRecord{}, false
	}

	return record, true
}

func (m *Manager) cacheSetSources(ctx context.Context, threadID string, sources map[string]SourceRecord) {
	if m.cache == nil || len(sources) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(sources))
	for id, record := range sources {
		raw, err := json.Marshal(record)
		if err != nil {
			continue
		}
		fields[id] = raw
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	key := sourcesPrefix + threadID
	if err := m.cache.HSet(cacheCtx, key, fields).Err(); err != nil {
		m.logger.Debug("sources cache write failed", "thread", threadID, "error", err)
		return
	}
	if err := m.cache.Expire(cacheCtx, key, m.ttl).Err(); err != nil {
		m.logger.Debug("sources cache expire failed", "thread", threadID, "error", err)
	}
}

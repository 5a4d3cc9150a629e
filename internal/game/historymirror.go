package game

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

const historyMirrorKey = "aviator:crash:history"

// HistoryMirror write-through-caches the crash-history ring into Redis
// so the Gateway's REST history reads don't contend with the round
// actor's own mutex; Engine.history stays the authoritative in-process
// copy regardless of whether a mirror is attached.
type HistoryMirror struct {
	client *redis.Client
	maxLen int
}

// NewHistoryMirror returns a mirror bounded to maxLen entries.
func NewHistoryMirror(client *redis.Client, maxLen int) *HistoryMirror {
	return &HistoryMirror{client: client, maxLen: maxLen}
}

// Append pushes entry to the front of the mirrored list and trims it
// to maxLen, best-effort: a Redis hiccup is logged, never propagated.
func (m *HistoryMirror) Append(ctx context.Context, entry HistoryEntry) {
	if m == nil || m.client == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[HISTORY] marshal entry: %v", err)
		return
	}
	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, historyMirrorKey, data)
	pipe.LTrim(ctx, historyMirrorKey, 0, int64(m.maxLen-1))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[HISTORY] mirror append: %v", err)
	}
}

// Recent reads back up to n entries, most recent first. A nil mirror
// or a Redis error both yield an empty slice so callers can fall back
// to the in-process ring without special-casing "mirror absent".
func (m *HistoryMirror) Recent(ctx context.Context, n int) []HistoryEntry {
	if m == nil || m.client == nil {
		return nil
	}
	raw, err := m.client.LRange(ctx, historyMirrorKey, 0, int64(n-1)).Result()
	if err != nil {
		log.Printf("[HISTORY] mirror read: %v", err)
		return nil
	}
	entries := make([]HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

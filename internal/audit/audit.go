package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ActionLatestInvalidate = "latest.invalidate"

	ResourceLatestCache = "latest_cache"
)

// Entry is one administrative action against a facade resource.
type Entry struct {
	ID           string
	Actor        string
	Role         string
	Action       string
	ResourceType string
	ResourceID   string
	FacadeID     string
	// FacadeType is the wire value (refrigerada, no_refrigerada, unknown)
	// the action was scoped to; empty when it spans every type.
	FacadeType    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

type invalidationMetadata struct {
	CacheKey string `json:"cache_key"`
	Removed  bool   `json:"removed"`
}

// LatestInvalidation describes an operator dropping the cached latest values
// of one facade and type. key is the cache key that was deleted.
func LatestInvalidation(facadeID, facadeType, key string, removed bool) Entry {
	metadata, _ := json.Marshal(invalidationMetadata{CacheKey: key, Removed: removed})
	return Entry{
		Action:       ActionLatestInvalidate,
		ResourceType: ResourceLatestCache,
		ResourceID:   key,
		FacadeID:     facadeID,
		FacadeType:   facadeType,
		Metadata:     metadata,
	}
}

func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON returns the hex SHA-256 of data, or "" for empty metadata.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

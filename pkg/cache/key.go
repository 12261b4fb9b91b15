package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/contrib-harvester/pkg/window"
)

// KeyPrefix prefixes every chunk key.
const KeyPrefix = "harvest:chunk:"

// ChunkKey identifies one chunk of one (entity, kind) window.
type ChunkKey struct {
	EntityID string
	Kind     window.Kind
	Start    time.Time
	End      time.Time
}

// NewChunkKey builds the key of a chunk.
func NewChunkKey(entityID string, kind window.Kind, chunk window.Interval) ChunkKey {
	return ChunkKey{EntityID: entityID, Kind: kind, Start: chunk.Start, End: chunk.End}
}

// String generates a deterministic cache key string.
// Format: harvest:chunk:<entity>:<kind>:<start unix>-<end unix>
//
// Example:
//
//	harvest:chunk:octocat:before:1514764800-1546300800
func (k ChunkKey) String() string {
	var b strings.Builder
	b.WriteString(KeyPrefix)
	b.WriteString(k.EntityID)
	b.WriteByte(':')
	b.WriteString(string(k.Kind))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(k.Start.Unix(), 10))
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(k.End.Unix(), 10))
	return b.String()
}

// EntityPrefix returns the prefix shared by all chunk keys of an entity.
func EntityPrefix(entityID string) string {
	return KeyPrefix + entityID + ":"
}

// Package entity contains the core value types moved through the
// ingestion-to-query pipeline.
package entity

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Entity is an extracted fact submitted for storage. Entities are immutable
// once submitted; their identity is derived from their content plus the ACL
// they were submitted under, never assigned by the client.
type Entity struct {
	Text         string
	Type         string
	Confidence   float64
	Context      string
	DocumentID   string
	URI          string
	LanguageCode string
	Metadata     map[string]string
}

// SanitizeMetadata normalizes metadata keys: whitespace and punctuation are
// stripped and keys are lowercased. Entries whose key sanitizes to the empty
// string are dropped.
func (e *Entity) SanitizeMetadata() {
	if len(e.Metadata) == 0 {
		return
	}

	sanitized := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		key := SanitizeMetadataKey(k)
		if key == "" {
			continue
		}
		sanitized[key] = v
	}
	e.Metadata = sanitized
}

// SanitizeMetadataKey strips whitespace and punctuation from a metadata key
// and lowercases it.
func SanitizeMetadataKey(key string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, key)
}

// DeriveID computes the deterministic id of an entity stored under the given
// ACL string. Two submissions of the same content under the same ACL collide
// to the same id, which is the dedup backstop for at-least-once delivery.
func DeriveID(e *Entity, acl string) string {
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(e.Text)
	sb.WriteByte('|')
	sb.WriteString(e.Type)
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatFloat(e.Confidence, 'f', -1, 64))
	sb.WriteByte('|')
	sb.WriteString(e.Context)
	sb.WriteByte('|')
	sb.WriteString(e.DocumentID)
	sb.WriteByte('|')
	sb.WriteString(e.URI)
	sb.WriteByte('|')
	sb.WriteString(e.LanguageCode)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(e.Metadata[k])
	}
	sb.WriteByte('|')
	sb.WriteString(acl)

	return fmt.Sprintf("%016x", xxhash.Sum64String(sb.String()))
}

// StoredEntity is an entity persisted in the durable backing store. It is
// mutated only to flip the Indexed marker once the indexer has processed it.
type StoredEntity struct {
	Entity

	ID      string
	ACL     string
	Visible bool
	// Timestamp is the receipt time in unix milliseconds.
	Timestamp int64
	// Indexed is the unix millisecond time the entity was indexed,
	// or 0 while it is still waiting for the indexer.
	Indexed int64
}

// NewStoredEntity builds the stored form of an entity under the given ACL
// with the receipt time stamped to now.
func NewStoredEntity(e Entity, acl string) *StoredEntity {
	e.SanitizeMetadata()

	return &StoredEntity{
		Entity:    e,
		ID:        DeriveID(&e, acl),
		ACL:       acl,
		Visible:   true,
		Timestamp: time.Now().UnixMilli(),
	}
}

// User is an authenticated caller: the identity the ACL model evaluates
// visibility against.
type User struct {
	ID     string
	Groups []string
	APIKey string
}

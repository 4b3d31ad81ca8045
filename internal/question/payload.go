package question

import (
	"encoding/json"
	"math"
	"strconv"
)

// Payload keys as persisted on every indexed point.
const (
	KeyText          = "text"
	KeyTextField     = "text_field"
	KeyContext       = "context"
	KeyMetadata      = "metadata"
	KeyIndex         = "index"
	KeyEmbeddingKind = "embedding_kind"
)

// Payload is the stored side of an indexed point. Context is only set on
// primary_with_context points.
type Payload struct {
	Text      string
	TextField string
	Context   string
	Metadata  map[string]any
	Index     int
	Kind      EmbeddingKind
}

func (p Payload) Map() map[string]any {
	m := map[string]any{
		KeyText:          p.Text,
		KeyTextField:     p.TextField,
		KeyMetadata:      p.Metadata,
		KeyIndex:         p.Index,
		KeyEmbeddingKind: string(p.Kind),
	}
	if p.Metadata == nil {
		m[KeyMetadata] = map[string]any{}
	}
	if p.Context != "" {
		m[KeyContext] = p.Context
	}
	return m
}

// PayloadFromMap is lenient: missing or mistyped keys fall back to zero
// values so that points written by older runs still read back.
func PayloadFromMap(m map[string]any) Payload {
	p := Payload{}
	p.Text, _ = m[KeyText].(string)
	p.TextField, _ = m[KeyTextField].(string)
	p.Context, _ = m[KeyContext].(string)
	if kind, ok := m[KeyEmbeddingKind].(string); ok {
		p.Kind = EmbeddingKind(kind)
	}
	if meta, ok := m[KeyMetadata].(map[string]any); ok {
		p.Metadata = meta
	}
	p.Index = toInt(m[KeyIndex])
	return p
}

// Question rebuilds the original object: primary text under its source
// field merged with the stored metadata.
func (p Payload) Question() map[string]any {
	field := p.TextField
	if field == "" {
		field = DefaultSchema().TextFields[0]
	}
	q := make(map[string]any, len(p.Metadata)+1)
	q[field] = p.Text
	for k, v := range p.Metadata {
		q[k] = v
	}
	return q
}

func (p Payload) ExternalID(idField string) (string, bool) {
	if p.Metadata == nil || idField == "" {
		return "", false
	}
	return IDString(p.Metadata[idField])
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		if math.IsNaN(t) {
			return 0
		}
		return int(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInputNotFound = errors.New("input not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnavailable   = errors.New("collaborator unavailable")
)

// Record is one externally supplied question object. Values come straight
// from the JSON decoder, so numbers are json.Number.
type Record map[string]any

type EmbeddingKind string

const (
	KindPrimaryOnly        EmbeddingKind = "primary_only"
	KindPrimaryWithContext EmbeddingKind = "primary_with_context"
)

// Schema names the fields a Record is read through. TextFields and
// ContextFields are tried in order; the first non-blank string wins.
type Schema struct {
	TextFields    []string
	ContextFields []string
	IDField       string
}

func DefaultSchema() Schema {
	return Schema{
		TextFields:    []string{"QuestionText", "question", "Question"},
		ContextFields: []string{"Context", "context", "Passage", "passage"},
		IDField:       "_id",
	}
}

// Text returns the primary text of r and the field it was read from.
func (s Schema) Text(r Record) (string, string, bool) {
	return firstString(r, s.TextFields)
}

// Context returns the supplementary context of r, or "" when absent.
func (s Schema) Context(r Record) string {
	c, _, _ := firstString(r, s.ContextFields)
	return c
}

func (s Schema) ExternalID(r Record) (string, bool) {
	if s.IDField == "" {
		return "", false
	}
	return IDString(r[s.IDField])
}

// Metadata copies every field of r except the one the primary text came from.
func (s Schema) Metadata(r Record, textField string) map[string]any {
	meta := make(map[string]any, len(r))
	for k, v := range r {
		if k == textField {
			continue
		}
		meta[k] = v
	}
	return meta
}

func firstString(r Record, fields []string) (string, string, bool) {
	for _, f := range fields {
		s, ok := r[f].(string)
		if !ok {
			continue
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		return s, f, true
	}
	return "", "", false
}

// IDString normalizes an identifier value to its string form. Mongo style
// {"$oid": "..."} wrappers are unwrapped. Empty values report false.
func IDString(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case uint64:
		s = strconv.FormatUint(t, 10)
	case map[string]any:
		if oid, ok := t["$oid"]; ok {
			return IDString(oid)
		}
		return "", false
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// SearchResult is one ranked hit: the external identifier (or point id),
// the reconstructed question object and its similarity score.
type SearchResult struct {
	ID       string         `json:"id"`
	Question map[string]any `json:"question"`
	Score    float32        `json:"score"`
}

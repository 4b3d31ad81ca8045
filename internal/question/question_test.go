package question_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hasan-murad02/rag/internal/question"
)

func TestSchema_Text_Fallback(t *testing.T) {
	s := question.DefaultSchema()

	tests := []struct {
		name      string
		rec       question.Record
		wantText  string
		wantField string
		wantOK    bool
	}{
		{"primary field", question.Record{"QuestionText": "What is mitosis?", "question": "other"}, "What is mitosis?", "QuestionText", true},
		{"lowercase fallback", question.Record{"question": "What is ATP?"}, "What is ATP?", "question", true},
		{"capitalized fallback", question.Record{"Question": "Define osmosis"}, "Define osmosis", "Question", true},
		{"blank primary skipped", question.Record{"QuestionText": "   ", "Question": "Next"}, "Next", "Question", true},
		{"empty primary", question.Record{"QuestionText": ""}, "", "", false},
		{"non string", question.Record{"QuestionText": 42}, "", "", false},
		{"missing", question.Record{"_id": "x"}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, field, ok := s.Text(tt.rec)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantField, field)
		})
	}
}

func TestSchema_Context(t *testing.T) {
	s := question.DefaultSchema()
	assert.Equal(t, "cells divide", s.Context(question.Record{"Context": "cells divide"}))
	assert.Equal(t, "passage text", s.Context(question.Record{"Context": " ", "Passage": "passage text"}))
	assert.Equal(t, "", s.Context(question.Record{"QuestionText": "q"}))
}

func TestIDString(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   string
		wantOK bool
	}{
		{"string", "abc", "abc", true},
		{"blank string", "  ", "", false},
		{"nil", nil, "", false},
		{"json number", json.Number("17"), "17", true},
		{"float", float64(3), "3", true},
		{"int", 12, "12", true},
		{"oid", map[string]any{"$oid": "65a1"}, "65a1", true},
		{"object without oid", map[string]any{"x": 1}, "", false},
		{"bool", true, "true", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := question.IDString(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchema_Metadata_ExcludesTextField(t *testing.T) {
	s := question.DefaultSchema()
	rec := question.Record{"_id": "a", "question": "q", "Subject": "bio"}

	meta := s.Metadata(rec, "question")
	assert.Equal(t, map[string]any{"_id": "a", "Subject": "bio"}, meta)
	assert.Contains(t, rec, "question", "source record must not be mutated")
}

func TestPayload_RoundTripAndQuestion(t *testing.T) {
	p := question.Payload{
		Text:      "What is mitosis?",
		TextField: "QuestionText",
		Context:   "cell division",
		Metadata:  map[string]any{"_id": "a", "Subject": "bio"},
		Index:     3,
		Kind:      question.KindPrimaryWithContext,
	}

	m := p.Map()
	assert.Equal(t, "cell division", m[question.KeyContext])
	assert.Equal(t, "primary_with_context", m[question.KeyEmbeddingKind])

	back := question.PayloadFromMap(m)
	assert.Equal(t, p, back)

	id, ok := back.ExternalID("_id")
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	assert.Equal(t, map[string]any{"QuestionText": "What is mitosis?", "_id": "a", "Subject": "bio"}, back.Question())
}

func TestPayload_QuestionUsesSourceField(t *testing.T) {
	p := question.Payload{Text: "What is ATP?", TextField: "question", Metadata: map[string]any{"_id": "b"}}
	assert.Equal(t, map[string]any{"question": "What is ATP?", "_id": "b"}, p.Question())

	legacy := question.Payload{Text: "What is ATP?"}
	assert.Equal(t, map[string]any{"QuestionText": "What is ATP?"}, legacy.Question())
}

func TestPayload_PrimaryOnlyOmitsContext(t *testing.T) {
	m := question.Payload{Text: "q", Kind: question.KindPrimaryOnly}.Map()
	_, has := m[question.KeyContext]
	assert.False(t, has)
	assert.Equal(t, map[string]any{}, m[question.KeyMetadata])
}

func TestPayloadFromMap_NumericIndexForms(t *testing.T) {
	assert.Equal(t, 4, question.PayloadFromMap(map[string]any{"index": float64(4)}).Index)
	assert.Equal(t, 5, question.PayloadFromMap(map[string]any{"index": int64(5)}).Index)
	assert.Equal(t, 6, question.PayloadFromMap(map[string]any{"index": json.Number("6")}).Index)
	assert.Equal(t, 0, question.PayloadFromMap(map[string]any{}).Index)
}

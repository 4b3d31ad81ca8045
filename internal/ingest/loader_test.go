package ingest_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasan-murad02/rag/internal/ingest"
	"github.com/hasan-murad02/rag/internal/question"
)

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantLen int
		wantErr error
	}{
		{"array", `[{"QuestionText":"a"},{"QuestionText":"b"}]`, 2, nil},
		{"single object", `{"QuestionText":"a"}`, 1, nil},
		{"empty array", `[]`, 0, nil},
		{"scalar", `42`, 0, question.ErrInvalidInput},
		{"broken", `[{`, 0, question.ErrInvalidInput},
		{"trailing data", `[] []`, 0, question.ErrInvalidInput},
		{"non-object element kept", `[1, {"QuestionText":"a"}]`, 2, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := ingest.DecodeRecords(strings.NewReader(tt.in))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, recs, tt.wantLen)
		})
	}
}

func TestDecodeRecords_NumbersStayExact(t *testing.T) {
	recs, err := ingest.DecodeRecords(strings.NewReader(`[{"_id": 12345678901234567, "QuestionText": "q"}]`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567"), recs[0]["_id"])
}

package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hasan-murad02/rag/internal/question"
)

// LoadRecords reads a JSON file holding an array of question objects. A
// single top-level object is treated as a one-element array.
func LoadRecords(path string) ([]question.Record, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- operator supplied ingest path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: json file not found: %s", question.ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	records, err := DecodeRecords(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// DecodeRecords decodes numbers as json.Number so identifiers and metadata
// survive without float rounding.
func DecodeRecords(r io.Reader) ([]question.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", question.ErrInvalidInput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: invalid json: trailing data after top-level value", question.ErrInvalidInput)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return nil, fmt.Errorf("%w: expected an array of objects, got %T", question.ErrInvalidInput, raw)
	}

	// Non-object elements become empty records and are later skipped as
	// malformed, like objects without text.
	records := make([]question.Record, 0, len(items))
	for _, item := range items {
		obj, _ := item.(map[string]any)
		records = append(records, question.Record(obj))
	}
	return records, nil
}

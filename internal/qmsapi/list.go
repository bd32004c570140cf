package qmsapi

import (
	"bytes"
	"encoding/json"
)

// listOf decodes either a bare JSON array or a paginated {"results": [...]}
// envelope.
type listOf[T any] struct {
	Items []T
}

func (l *listOf[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &l.Items)
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return err
	}
	l.Items = page.Results
	return nil
}

package bulk

import (
	"encoding/json"
	"io"

	"github.com/rentwise/riskd/internal/apierr"
)

// DecodeEnvelope splits a {"<key>": [...]} document into raw items.
// A malformed envelope is a request-level error; malformed items are left
// for per-item reporting.
func DecodeEnvelope(r io.Reader, key string) ([]json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&env); err != nil || env == nil {
		return nil, apierr.New(apierr.ErrBadRequest, "body must be a JSON object with a "+key+" array")
	}
	raw, ok := env[key]
	if !ok || string(raw) == "null" {
		return nil, apierr.New(apierr.ErrBadRequest, key+" array is required")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, apierr.New(apierr.ErrBadRequest, "body must be a JSON object with a "+key+" array")
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

// Echo returns raw if it is valid JSON, otherwise the raw text as a string,
// so a rejected item can be reported back as submitted.
func Echo(raw json.RawMessage) json.RawMessage {
	if len(raw) > 0 && json.Valid(raw) {
		return raw
	}
	b, _ := json.Marshal(string(raw))
	return b
}

package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flexDoc struct {
	N Number     `json:"n"`
	B Bool       `json:"b"`
	L StringList `json:"l"`
}

func decodeFlex(t *testing.T, raw string) flexDoc {
	t.Helper()
	var d flexDoc
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	return d
}

func TestNumber_Coercion(t *testing.T) {
	assert.Equal(t, NumberOf(1500), decodeFlex(t, `{"n": 1500}`).N)
	assert.Equal(t, NumberOf(12.5), decodeFlex(t, `{"n": " 12.5 "}`).N)
	assert.False(t, decodeFlex(t, `{"n": null}`).N.Set)
	assert.False(t, decodeFlex(t, `{}`).N.Set)
	assert.False(t, decodeFlex(t, `{"n": ""}`).N.Set)

	bad := decodeFlex(t, `{"n": "lots"}`).N
	assert.True(t, bad.Set)
	assert.True(t, bad.Invalid)
	assert.Equal(t, "lots", bad.Raw)

	assert.True(t, decodeFlex(t, `{"n": [1]}`).N.Invalid)
	assert.True(t, decodeFlex(t, `{"n": true}`).N.Invalid)
}

func TestBool_Coercion(t *testing.T) {
	assert.Equal(t, BoolOf(true), decodeFlex(t, `{"b": true}`).B)
	assert.Equal(t, BoolOf(true), decodeFlex(t, `{"b": "yes"}`).B)
	assert.Equal(t, BoolOf(false), decodeFlex(t, `{"b": "0"}`).B)
	assert.Equal(t, BoolOf(true), decodeFlex(t, `{"b": 1}`).B)
	assert.True(t, decodeFlex(t, `{"b": "maybe"}`).B.Invalid)
	assert.False(t, decodeFlex(t, `{"b": null}`).B.Set)
}

func TestStringList_DropsNullAndEmpty(t *testing.T) {
	l := decodeFlex(t, `{"l": ["theft", null, "", "  ", "weather"]}`).L
	assert.True(t, l.Set)
	assert.False(t, l.Invalid)
	assert.Equal(t, []string{"theft", "weather"}, l.Values)
}

func TestStringList_EmptyArrayIsValid(t *testing.T) {
	l := decodeFlex(t, `{"l": []}`).L
	assert.True(t, l.Set)
	assert.False(t, l.Invalid)
	assert.Empty(t, l.Values)
}

func TestStringList_SemicolonString(t *testing.T) {
	l := decodeFlex(t, `{"l": "electrical; ; safety"}`).L
	assert.Equal(t, []string{"electrical", "safety"}, l.Values)
}

func TestStringList_RejectsNestedValues(t *testing.T) {
	assert.True(t, decodeFlex(t, `{"l": [{"a": 1}]}`).L.Invalid)
	assert.True(t, decodeFlex(t, `{"l": {"a": 1}}`).L.Invalid)
}

func TestStringList_MarshalsEmptyAsArray(t *testing.T) {
	out, err := json.Marshal(StringList{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typewitness/internal/recorder"
)

const samplePayload = `{
  "sessionId": "sess-1",
  "editorHTML": "<p>Hi there</p>",
  "events": [
    {
      "id": "e1",
      "type": "text-input",
      "timestamp": 1000,
      "source": "dom",
      "meta": {
        "docSize": 2,
        "selection": {"from": 2, "to": 2},
        "docChanged": true,
        "html": "<p>Hi</p>",
        "domInput": {"inputType": "insertText", "data": "Hi"}
      }
    },
    {
      "id": "e2",
      "type": "paste",
      "timestamp": 2000,
      "source": "transaction",
      "meta": {
        "docSize": 8,
        "html": "<p>Hi there</p>",
        "pastePayload": {"text": " there", "length": 6, "source": "external"}
      }
    }
  ]
}`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(samplePayload))
	require.NoError(t, err)

	assert.Equal(t, "sess-1", p.SessionID)
	assert.Equal(t, "<p>Hi there</p>", p.EditorHTML)
	require.Len(t, p.Events, 2)
	assert.Equal(t, recorder.TypeTextInput, p.Events[0].Type)
	assert.Equal(t, recorder.SourceDOM, p.Events[0].Source)
	assert.Equal(t, "Hi", p.Events[0].DOMData())
	assert.Equal(t, recorder.PasteFromExternal, p.Events[1].Meta.PastePayload.Source)
}

func TestMissingSessionIDIsStable(t *testing.T) {
	doc := `{"events": [{"id": "a", "type": "text-input", "timestamp": 5, "meta": {"html": "<p>a</p>"}}]}`
	reformatted := `{
	  "events": [
	    {"timestamp": 5, "type": "text-input", "id": "a", "meta": {"html": "<p>a</p>"}}
	  ]
	}`
	other := `{"events": [{"id": "a", "type": "text-input", "timestamp": 6, "meta": {"html": "<p>a</p>"}}]}`

	first, err := Parse([]byte(doc))
	require.NoError(t, err)
	second, err := Parse([]byte(reformatted))
	require.NoError(t, err)
	third, err := Parse([]byte(other))
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.SessionID, third.SessionID)

	h1, err := Hash(first)
	require.NoError(t, err)
	h2, err := Hash(second)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "same recording hashes the same")
}

func TestParseDefaults(t *testing.T) {
	p, err := Parse([]byte(`{"events": []}`))
	require.NoError(t, err)

	assert.Equal(t, DefaultEditorHTML, p.EditorHTML)
	id, err := uuid.Parse(p.SessionID)
	assert.NoError(t, err, "missing session id gets a uuid")
	assert.Equal(t, uuid.Version(5), id.Version())
	assert.Empty(t, p.Events)

	p, err = Parse([]byte(`{"editorHTML": "", "events": []}`))
	require.NoError(t, err)
	assert.Equal(t, "", p.EditorHTML, "explicit empty html is kept")
}

func TestParseUnknownEventTypeTolerated(t *testing.T) {
	p, err := Parse([]byte(`{"events": [{"id": "x", "type": "format-bold", "timestamp": 1, "meta": {"html": ""}}]}`))
	require.NoError(t, err)
	assert.Equal(t, recorder.TypeUnknown, p.Events[0].Type)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		target  error
	}{
		{"not json", `{`, ErrInvalidPayload},
		{"not an object", `[]`, ErrInvalidPayload},
		{"null", `null`, ErrInvalidPayload},
		{"missing events", `{"sessionId": "a"}`, ErrMissingEvents},
		{"null events", `{"events": null}`, ErrMissingEvents},
		{"events not array", `{"events": {}}`, ErrInvalidPayload},
		{"event missing id", `{"events": [{"type": "paste", "timestamp": 1, "meta": {"html": ""}}]}`, ErrInvalidPayload},
		{"event missing html", `{"events": [{"id": "a", "type": "paste", "timestamp": 1, "meta": {}}]}`, ErrInvalidPayload},
		{"string timestamp", `{"events": [{"id": "a", "type": "paste", "timestamp": "1", "meta": {"html": ""}}]}`, ErrInvalidPayload},
		{"bad source", `{"events": [{"id": "a", "type": "paste", "timestamp": 1, "source": "ime", "meta": {"html": ""}}]}`, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestDecodeLimit(t *testing.T) {
	_, err := Decode(strings.NewReader(samplePayload))
	assert.NoError(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(path, []byte(samplePayload), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", p.SessionID)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{}`), 0o600))
	_, err = Load(bad)
	assert.ErrorIs(t, err, ErrMissingEvents)
}

func TestHash(t *testing.T) {
	p, err := Parse([]byte(samplePayload))
	require.NoError(t, err)

	h1, err := Hash(p)
	require.NoError(t, err)
	assert.Len(t, h1, 64)
	assert.Equal(t, strings.ToLower(h1), h1)

	h2, err := Hash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	p.Events[0].Timestamp++
	h3, err := Hash(p)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

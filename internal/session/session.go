// Package session reads recorded writing sessions.
//
// A session payload is the JSON document {sessionId, editorHTML, events}
// exported by the editor. Payloads are validated against an embedded JSON
// Schema before they are decoded into recorder events.
package session

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"typewitness/internal/recorder"
)

// DefaultEditorHTML is the editor content assumed when a payload has none.
const DefaultEditorHTML = "<p></p>"

// MaxPayloadBytes bounds Decode.
const MaxPayloadBytes = 64 << 20

const schemaURL = "https://typewitness.dev/schema/session-v1.json"

var (
	// ErrMissingEvents is returned for payloads without an events array.
	ErrMissingEvents = errors.New("session payload is missing an events array")

	// ErrInvalidPayload wraps schema and decoding failures.
	ErrInvalidPayload = errors.New("invalid session payload")
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Payload is a recorded session.
type Payload struct {
	SessionID  string           `json:"sessionId"`
	EditorHTML string           `json:"editorHTML"`
	Events     []recorder.Event `json:"events"`
}

// idNamespace scopes the name-based UUIDs given to payloads without a sessionId.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("typewitness:session"))

// Parse validates and decodes a session payload. A missing editorHTML takes
// DefaultEditorHTML and a missing sessionId gets a UUID derived from the
// session content, so reparsing the same recording yields the same id.
func Parse(data []byte) (*Payload, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: payload must be an object", ErrInvalidPayload)
	}
	if events, ok := raw["events"]; !ok || events == nil {
		return nil, ErrMissingEvents
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.EditorHTML == "" {
		if _, present := raw["editorHTML"]; !present {
			p.EditorHTML = DefaultEditorHTML
		}
	}
	if p.SessionID == "" {
		id, err := contentID(&p)
		if err != nil {
			return nil, err
		}
		p.SessionID = id
	}
	return &p, nil
}

// contentID returns a version 5 UUID over the SHA-256 of the payload's
// editor HTML and events.
func contentID(p *Payload) (string, error) {
	data, err := json.Marshal(struct {
		EditorHTML string           `json:"editorHTML"`
		Events     []recorder.Event `json:"events"`
	}{p.EditorHTML, p.Events})
	if err != nil {
		return "", fmt.Errorf("encode session payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return uuid.NewSHA1(idNamespace, sum[:]).String(), nil
}

// Decode reads and parses a payload from r.
func Decode(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read session payload: %w", err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidPayload, MaxPayloadBytes)
	}
	return Parse(data)
}

// Load reads and parses the session file at path.
func Load(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Hash returns the lowercase hex SHA-256 of the payload's canonical
// two-space-indented JSON encoding.
func Hash(p *Payload) (string, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode session payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

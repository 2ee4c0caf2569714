package edits

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultMessage is used when the model's JSON carries no message.
const DefaultMessage = "operation complete"

const snippetLimit = 200

// ErrNoJSON is returned when the text contains no {...} span.
var ErrNoJSON = errors.New("no JSON object found in model output")

// ParseError reports that the model output could not be turned into a Response.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse AI response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Extract pulls the JSON object out of free-form model output.
//
// The span runs from the first '{' to the last '}' in the text. It is not
// brace balanced, so prose containing braces after the object makes the
// span invalid and the call fails.
func Extract(text string) (Response, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Response{}, &ParseError{Snippet: snippet(text), Err: ErrNoJSON}
	}
	span := []byte(text[start : end+1])

	var raw struct {
		Message json.RawMessage `json:"message"`
		Edits   json.RawMessage `json:"edits"`
	}
	if err := json.Unmarshal(span, &raw); err != nil {
		return Response{}, &ParseError{Snippet: snippet(text), Err: err}
	}

	resp := Response{Message: DefaultMessage, Edits: []Edit{}}
	if !isNull(raw.Message) {
		if err := json.Unmarshal(raw.Message, &resp.Message); err != nil {
			return Response{}, &ParseError{Snippet: snippet(text), Err: fmt.Errorf("message: %w", err)}
		}
	}
	if isNull(raw.Edits) {
		return resp, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw.Edits, &elems); err != nil {
		return Response{}, &ParseError{Snippet: snippet(text), Err: fmt.Errorf("edits: %w", err)}
	}
	for i, elem := range elems {
		edit, err := decodeEdit(elem)
		if err != nil {
			return Response{}, &ParseError{Snippet: snippet(text), Err: fmt.Errorf("edits[%d]: %w", i, err)}
		}
		resp.Edits = append(resp.Edits, edit)
	}
	return resp, nil
}

func decodeEdit(elem json.RawMessage) (Edit, error) {
	parsed := gjson.ParseBytes(elem)
	if !parsed.IsObject() {
		return Edit{}, fmt.Errorf("expected an object, got %s", parsed.Type)
	}
	typ := parsed.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return Edit{}, errors.New("missing or non-string type")
	}

	var edit Edit
	if err := json.Unmarshal(elem, &edit); err != nil {
		return Edit{}, err
	}
	return edit, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) > snippetLimit {
		return string(r[:snippetLimit]) + "…(truncated)"
	}
	return text
}

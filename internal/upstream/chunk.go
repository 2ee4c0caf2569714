package upstream

import (
	"strings"

	"github.com/tidwall/gjson"
)

type payloadKind int

const (
	payloadSkip payloadKind = iota
	payloadDone
	payloadMalformed
	payloadFinish
	payloadContent
	// payloadEmpty is valid JSON that carries no content, e.g. a role-only delta.
	payloadEmpty
)

func (k payloadKind) String() string {
	switch k {
	case payloadSkip:
		return "skip"
	case payloadDone:
		return "done"
	case payloadMalformed:
		return "malformed"
	case payloadFinish:
		return "finish"
	case payloadContent:
		return "content"
	default:
		return "empty"
	}
}

type payload struct {
	kind         payloadKind
	content      string
	finishReason string
}

// countsAsChunk reports whether the payload was a parsed JSON chunk.
func (p payload) countsAsChunk() bool {
	return p.kind == payloadFinish || p.kind == payloadContent || p.kind == payloadEmpty
}

// classifyPayload inspects one data line of a chat completion stream.
// A finish_reason of stop or length ends the stream before any content on
// the same chunk is looked at.
func classifyPayload(data string) payload {
	data = strings.TrimSpace(data)
	switch {
	case data == "":
		return payload{kind: payloadSkip}
	case data == "[DONE]":
		return payload{kind: payloadDone}
	case !gjson.Valid(data):
		return payload{kind: payloadMalformed}
	}

	choice := gjson.Get(data, "choices.0")
	if !choice.Exists() {
		return payload{kind: payloadEmpty}
	}
	if reason := choice.Get("finish_reason"); reason.Type == gjson.String {
		if reason.Str == "stop" || reason.Str == "length" {
			return payload{kind: payloadFinish, finishReason: reason.Str}
		}
	}
	content := choice.Get("delta.content")
	if content.Type == gjson.String && content.Str != "" {
		return payload{kind: payloadContent, content: content.Str}
	}
	return payload{kind: payloadEmpty}
}

package edits

import "strings"

// Rules configures the keyword responder used when a request arrives without
// an API key. Keywords are matched case-insensitively as substrings.
type Rules struct {
	BoldKeywords    []string `yaml:"bold_keywords"`
	AppendKeywords  []string `yaml:"append_keywords"`
	AtEndKeywords   []string `yaml:"at_end_keywords"`
	ReplaceKeywords []string `yaml:"replace_keywords"`

	BoldTarget      string `yaml:"bold_target"`
	AppendedText    string `yaml:"appended_text"`
	ReplaceSearch   string `yaml:"replace_search"`
	ReplaceWith     string `yaml:"replace_with"`
	ConfirmMessage  string `yaml:"confirm_message"`
	GuidanceMessage string `yaml:"guidance_message"`
}

// DefaultRules returns the built-in English and Chinese keyword set.
func DefaultRules() Rules {
	return Rules{
		BoldKeywords:    []string{"bold", "加粗", "粗体"},
		AppendKeywords:  []string{"add", "append", "添加"},
		AtEndKeywords:   []string{"at the end", "end of", "末尾"},
		ReplaceKeywords: []string{"replace", "替换"},

		BoldTarget:      "first paragraph",
		AppendedText:    "This is a newly added paragraph.",
		ReplaceSearch:   "old text",
		ReplaceWith:     "new text",
		ConfirmMessage:  "Prepared the requested edits. Provide an API key for full AI processing.",
		GuidanceMessage: "No API key was provided, so only basic requests such as bold, append at the end and replace are understood. Provide an API key for full AI processing.",
	}
}

// Merge fills empty fields of r from d.
func (r Rules) Merge(d Rules) Rules {
	if len(r.BoldKeywords) == 0 {
		r.BoldKeywords = d.BoldKeywords
	}
	if len(r.AppendKeywords) == 0 {
		r.AppendKeywords = d.AppendKeywords
	}
	if len(r.AtEndKeywords) == 0 {
		r.AtEndKeywords = d.AtEndKeywords
	}
	if len(r.ReplaceKeywords) == 0 {
		r.ReplaceKeywords = d.ReplaceKeywords
	}
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&r.BoldTarget, d.BoldTarget},
		{&r.AppendedText, d.AppendedText},
		{&r.ReplaceSearch, d.ReplaceSearch},
		{&r.ReplaceWith, d.ReplaceWith},
		{&r.ConfirmMessage, d.ConfirmMessage},
		{&r.GuidanceMessage, d.GuidanceMessage},
	} {
		if *f.dst == "" {
			*f.dst = f.src
		}
	}
	return r
}

// Fallback answers edit requests from keyword rules alone. It never
// contacts a model.
type Fallback struct {
	rules Rules
}

func NewFallback(rules Rules) *Fallback {
	return &Fallback{rules: rules.Merge(DefaultRules())}
}

// Respond applies the rules in order (bold, append at end, replace). Each
// rule is independent, so one request may yield several edits.
func (f *Fallback) Respond(userRequest string) Response {
	req := strings.ToLower(userRequest)
	out := []Edit{}

	if containsAny(req, f.rules.BoldKeywords) {
		out = append(out, Edit{
			Type:       TypeFormat,
			SearchText: f.rules.BoldTarget,
			Format:     &Format{Bold: boolPtr(true)},
		})
	}
	if containsAny(req, f.rules.AppendKeywords) && containsAny(req, f.rules.AtEndKeywords) {
		out = append(out, Edit{
			Type:    TypeAddParagraph,
			Content: f.rules.AppendedText,
		})
	}
	if containsAny(req, f.rules.ReplaceKeywords) {
		out = append(out, Edit{
			Type:        TypeReplace,
			SearchText:  f.rules.ReplaceSearch,
			ReplaceText: stringPtr(f.rules.ReplaceWith),
		})
	}

	msg := f.rules.ConfirmMessage
	if len(out) == 0 {
		msg = f.rules.GuidanceMessage
	}
	return Response{Message: msg, Edits: out}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

package edits

import (
	"encoding/json"
	"fmt"
	"math"
)

// Type names a document edit operation.
type Type string

const (
	TypeInsert       Type = "insert"
	TypeReplace      Type = "replace"
	TypeFormat       Type = "format"
	TypeDelete       Type = "delete"
	TypeAddParagraph Type = "addParagraph"
	TypeInsertTable  Type = "insertTable"
	TypeSetHeading   Type = "setHeading"
)

// Known reports whether t is one of the operation types the add-in applies.
func (t Type) Known() bool {
	switch t {
	case TypeInsert, TypeReplace, TypeFormat, TypeDelete, TypeAddParagraph, TypeInsertTable, TypeSetHeading:
		return true
	}
	return false
}

// Style is a paragraph style name.
type Style string

const (
	StyleHeading1 Style = "Heading1"
	StyleHeading2 Style = "Heading2"
	StyleHeading3 Style = "Heading3"
	StyleNormal   Style = "Normal"
)

// Position is either a symbolic anchor ("start", "end") or a numeric offset.
// It remembers which form it was decoded from so it encodes back the same way.
type Position struct {
	Anchor  string
	Offset  int
	numeric bool
}

// AnchorPosition returns a symbolic position such as "start" or "end".
func AnchorPosition(anchor string) *Position {
	return &Position{Anchor: anchor}
}

// OffsetPosition returns a numeric position.
func OffsetPosition(offset int) *Position {
	return &Position{Offset: offset, numeric: true}
}

// IsOffset reports whether the position is numeric.
func (p Position) IsOffset() bool { return p.numeric }

func (p Position) MarshalJSON() ([]byte, error) {
	if p.numeric {
		return json.Marshal(p.Offset)
	}
	return json.Marshal(p.Anchor)
}

func (p *Position) UnmarshalJSON(data []byte) error {
	var anchor string
	if err := json.Unmarshal(data, &anchor); err == nil {
		*p = Position{Anchor: anchor}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("position must be a string or a number: %s", string(data))
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("position offset must be an integer: %s", string(data))
	}
	*p = Position{Offset: int(f), numeric: true}
	return nil
}

// Format holds character formatting. Nil fields are left untouched by the add-in.
type Format struct {
	Bold      *bool   `json:"bold,omitempty"`
	Italic    *bool   `json:"italic,omitempty"`
	Underline *bool   `json:"underline,omitempty"`
	FontSize  *int    `json:"fontSize,omitempty"`
	FontColor *string `json:"fontColor,omitempty"`
}

func (f *Format) UnmarshalJSON(data []byte) error {
	// Models routinely emit 12.0 for a font size.
	type alias Format
	aux := struct {
		*alias
		FontSize *float64 `json:"fontSize,omitempty"`
	}{alias: (*alias)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	f.FontSize = nil
	if aux.FontSize != nil {
		if *aux.FontSize != math.Trunc(*aux.FontSize) {
			return fmt.Errorf("fontSize must be an integer, got %v", *aux.FontSize)
		}
		size := int(*aux.FontSize)
		f.FontSize = &size
	}
	return nil
}

// Edit is a single document edit operation. Which optional fields are
// meaningful depends on Type; tableRows/tableColumns agreeing with
// tableData is expected of the producer but not checked here.
type Edit struct {
	Type         Type       `json:"type"`
	Content      string     `json:"content,omitempty"`
	Position     *Position  `json:"position,omitempty"`
	SearchText   string     `json:"searchText,omitempty"`
	ReplaceText  *string    `json:"replaceText,omitempty"`
	Format       *Format    `json:"format,omitempty"`
	TableRows    int        `json:"tableRows,omitempty"`
	TableColumns int        `json:"tableColumns,omitempty"`
	TableData    [][]string `json:"tableData,omitempty"`
	Style        Style      `json:"style,omitempty"`
}

// Response is the structured answer returned to the add-in.
type Response struct {
	Message string `json:"message"`
	Edits   []Edit `json:"edits"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	type alias Response
	a := alias(r)
	if a.Edits == nil {
		a.Edits = []Edit{}
	}
	return json.Marshal(a)
}

func boolPtr(b bool) *bool       { return &b }
func stringPtr(s string) *string { return &s }

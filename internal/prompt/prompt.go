// Package prompt renders the instruction text sent to the completion model.
package prompt

import (
	"strings"
	"text/template"
)

// DefaultPreviewLimit bounds how much of the document is quoted, in characters.
const DefaultPreviewLimit = 2000

const truncationMarker = "..."

// SystemPrimer is sent as the system message ahead of the built prompt.
const SystemPrimer = "You are a professional Word document editing assistant. Answer only with the JSON object described by the user message."

var promptTemplate = template.Must(template.New("prompt").Parse(`You are a Word document editing assistant. The user wants to edit the document below. Produce the edit operations that fulfil the request.

Current document content:
{{.Document}}

User request: {{.Request}}

Reply with a JSON object in this shape:
{
  "message": "short description of what was done",
  "edits": [
    {
      "type": "insert|replace|format|delete|addParagraph|insertTable|setHeading",
      "content": "text content (when needed)",
      "position": "start|end|<number>",
      "searchText": "text to search for (when needed)",
      "replaceText": "replacement text (when needed)",
      "format": {
        "bold": true/false,
        "italic": true/false,
        "underline": true/false,
        "fontSize": <number>,
        "fontColor": "color code"
      },
      "tableRows": <rows, insertTable only>,
      "tableColumns": <columns, insertTable only>,
      "tableData": [["Header 1", "Header 2", ...], ["Value 1", "Value 2", ...], ...],
      "style": "Heading1|Heading2|Heading3|Normal"
    }
  ]
}

Supported operation types:
- insert: insert text
- replace: replace text
- format: format text
- delete: delete text
- addParagraph: add a paragraph (style may make it a heading)
- insertTable: insert a table (tableRows, tableColumns and tableData)
- setHeading: apply a heading style to a paragraph (searchText or content, plus style)

Paragraph styles:
- "Heading1": top-level heading (H1)
- "Heading2": second-level heading (H2)
- "Heading3": third-level heading (H3)
- "Normal": body text

Example 1. For "insert a table with three rows and four columns at the end of the document", return:
{
  "message": "Inserted a 3x4 table at the end of the document",
  "edits": [
    {
      "type": "insertTable",
      "tableRows": 3,
      "tableColumns": 4
    }
  ]
}

Example 2. For "make a table of the planets closest to the sun with name, distance in AU and number of moons", return:
{
  "message": "Inserted a table of the four inner planets",
  "edits": [
    {
      "type": "insertTable",
      "tableRows": 5,
      "tableColumns": 3,
      "tableData": [
        ["Name", "Distance (AU)", "Moons"],
        ["Mercury", "0.39", "0"],
        ["Venus", "0.72", "0"],
        ["Earth", "1.00", "1"],
        ["Mars", "1.52", "2"]
      ]
    }
  ]
}

Notes:
1. The first row of tableData is the header row. tableRows must equal the number of rows in tableData and tableColumns the number of cells in each row.
2. To create a heading use addParagraph with style set to "Heading1" or "Heading2". Chapter and section titles are usually Heading2, the main title Heading1.
3. If the user explicitly asks for a top-level or main heading use "Heading1"; for a second-level, chapter or section heading use "Heading2".

Return only the JSON object and nothing else.`))

// Builder renders prompts. The zero value uses DefaultPreviewLimit.
type Builder struct {
	PreviewLimit int
}

func NewBuilder(previewLimit int) *Builder {
	return &Builder{PreviewLimit: previewLimit}
}

// Build renders the prompt for userRequest against a document snapshot.
func (b *Builder) Build(userRequest, document string) string {
	var sb strings.Builder
	// The template is static and the data is plain strings; Execute cannot fail.
	_ = promptTemplate.Execute(&sb, struct {
		Document string
		Request  string
	}{
		Document: Preview(document, b.limit()),
		Request:  userRequest,
	})
	return sb.String()
}

func (b *Builder) limit() int {
	if b == nil || b.PreviewLimit <= 0 {
		return DefaultPreviewLimit
	}
	return b.PreviewLimit
}

// Preview returns the first limit characters of document, followed by "..."
// when anything was cut.
func Preview(document string, limit int) string {
	n := 0
	for i := range document {
		if n == limit {
			return document[:i] + truncationMarker
		}
		n++
	}
	return document
}

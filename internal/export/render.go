// Package export renders stories into downloadable documents.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/kidsdream/api/internal/domain"
	"github.com/kidsdream/api/internal/storygen"
)

// Format names an output representation.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ErrUnsupportedFormat is returned for formats the renderer does not know.
var ErrUnsupportedFormat = errors.New("export: unsupported format")

// ParseFormat normalises user input such as "MD" or " html ".
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// Document is a rendered story ready to be written or uploaded.
type Document struct {
	Data        []byte
	ContentType string
	Extension   string
}

// Renderer turns stories into documents. The zero value is not usable; call NewRenderer.
type Renderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
	page     *template.Template
}

// NewRenderer builds a Renderer with the shared markdown pipeline.
func NewRenderer() *Renderer {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("p", "section", "span")
	return &Renderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.Typographer)),
		policy:   policy,
		page:     template.Must(template.New("story").Parse(pageTemplate)),
	}
}

// Render converts story into the requested format.
func (r *Renderer) Render(story domain.Story, format Format) (Document, error) {
	switch format {
	case FormatText:
		return Document{Data: []byte(plainText(story)), ContentType: "text/plain; charset=utf-8", Extension: "txt"}, nil
	case FormatJSON:
		data, err := json.MarshalIndent(newStoryJSON(story), "", "  ")
		if err != nil {
			return Document{}, fmt.Errorf("export: encode json: %w", err)
		}
		return Document{Data: append(data, '\n'), ContentType: "application/json", Extension: "json"}, nil
	case FormatMarkdown:
		return Document{Data: []byte(Markdown(story)), ContentType: "text/markdown; charset=utf-8", Extension: "md"}, nil
	case FormatHTML:
		data, err := r.html(story)
		if err != nil {
			return Document{}, err
		}
		return Document{Data: data, ContentType: "text/html; charset=utf-8", Extension: "html"}, nil
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Markdown renders the story as a markdown document with a metadata line.
func Markdown(story domain.Story) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(escapeMarkdown(strings.TrimSpace(story.Title)))
	b.WriteString("\n\n")
	if meta := metadataLine(story); meta != "" {
		b.WriteString("_")
		b.WriteString(escapeMarkdown(meta))
		b.WriteString("_\n\n")
	}
	for i, paragraph := range paragraphs(story.Content) {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(escapeMarkdown(paragraph))
	}
	b.WriteString("\n")
	return b.String()
}

func (r *Renderer) html(story domain.Story) ([]byte, error) {
	var body bytes.Buffer
	if err := r.markdown.Convert([]byte(Markdown(story)), &body); err != nil {
		return nil, fmt.Errorf("export: render markdown: %w", err)
	}
	safe := r.policy.SanitizeBytes(body.Bytes())

	var out bytes.Buffer
	err := r.page.Execute(&out, struct {
		Title string
		Body  template.HTML
	}{
		Title: strings.TrimSpace(story.Title),
		Body:  template.HTML(safe),
	})
	if err != nil {
		return nil, fmt.Errorf("export: render page: %w", err)
	}
	return out.Bytes(), nil
}

func plainText(story domain.Story) string {
	title := strings.TrimSpace(story.Title)
	return title + "\n" + strings.Repeat("=", len([]rune(title))) + "\n\n" + strings.TrimSpace(story.Content) + "\n"
}

type storyJSON struct {
	ID                string    `json:"id,omitempty"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	Theme             string    `json:"theme,omitempty"`
	AgeGroup          string    `json:"age_group,omitempty"`
	MainCharacter     string    `json:"main_character,omitempty"`
	Setting           string    `json:"setting,omitempty"`
	AdditionalDetails string    `json:"additional_details,omitempty"`
	Tier              string    `json:"tier,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
}

func newStoryJSON(story domain.Story) storyJSON {
	return storyJSON{
		ID:                story.ID,
		Title:             story.Title,
		Content:           story.Content,
		Theme:             story.Theme,
		AgeGroup:          string(story.AgeGroup),
		MainCharacter:     story.MainCharacter,
		Setting:           story.Setting,
		AdditionalDetails: story.AdditionalDetails,
		Tier:              string(story.Tier),
		CreatedAt:         story.CreatedAt,
	}
}

func metadataLine(story domain.Story) string {
	parts := make([]string, 0, 3)
	if theme := strings.TrimSpace(story.Theme); theme != "" {
		parts = append(parts, storygen.DisplayTheme(theme)+" story")
	}
	if story.AgeGroup != "" {
		parts = append(parts, "ages "+string(story.AgeGroup))
	}
	if !story.CreatedAt.IsZero() {
		parts = append(parts, story.CreatedAt.UTC().Format("January 2, 2006"))
	}
	return strings.Join(parts, " · ")
}

func paragraphs(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"<", `\<`,
	">", `\>`,
	"#", `\#`,
	"|", `\|`,
)

func escapeMarkdown(value string) string {
	return markdownEscaper.Replace(value)
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>body{font-family:Georgia,serif;max-width:40rem;margin:2rem auto;line-height:1.6;padding:0 1rem}h1{text-align:center}</style>
</head>
<body>
<article>
{{.Body}}
</article>
</body>
</html>
`

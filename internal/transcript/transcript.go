// Package transcript exports a conversation timeline as a standalone HTML document.
package transcript

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var page = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; line-height: 1.6; }
.message { margin-bottom: 1.5rem; }
.speaker { font-weight: bold; }
.time { color: #888; font-size: 0.8rem; margin-left: 0.5rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}<div class="message">
<div><span class="speaker" style="color: {{.Color}}">{{.Label}}</span><span class="time">{{.Time}}</span></div>
<div class="body">{{.Body}}</div>
</div>
{{end}}</body>
</html>
`))

type pageData struct {
	Title    string
	Messages []messageData
}

type messageData struct {
	Label string
	Color template.CSS
	Time  string
	Body  template.HTML
}

// Renderer converts message text, which agents write in markdown, to HTML.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer returns a renderer with GFM and syntax highlighting for fenced code.
func NewRenderer() Renderer {
	return Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle("github")),
			),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// WriteHTML renders the visible part of msgs as one HTML page. Hidden and empty messages are left
// out.
func (r Renderer) WriteHTML(w io.Writer, title string, msgs []models.Message) error {
	data := pageData{Title: title}
	for _, m := range msgs {
		if !m.Visible || strings.TrimSpace(m.VisibleText) == "" {
			continue
		}

		var body bytes.Buffer
		if err := r.md.Convert([]byte(m.VisibleText), &body); err != nil {
			return fmt.Errorf("error rendering message %s: %w", m.ID, err)
		}
		data.Messages = append(data.Messages, messageData{
			Label: m.Speaker.Label(),
			Color: template.CSS(m.Speaker.Color()),
			Time:  m.CreatedAt.Format(time.DateTime),
			// goldmark escapes raw HTML unless html.WithUnsafe is set.
			Body: template.HTML(body.String()),
		})
	}

	if err := page.Execute(w, data); err != nil {
		return fmt.Errorf("error executing template: %w", err)
	}
	return nil
}

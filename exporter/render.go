package exporter

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/aluiziolira/kb-backup/models"
)

//go:embed templates/article.html
var templateFS embed.FS

var articleTemplate = template.Must(template.ParseFS(templateFS, "templates/article.html"))

type pageData struct {
	Title     string
	Body      template.HTML
	Downloads []models.DownloadEntry
}

// renderHTML writes the standalone page. The body is trusted upstream markup
// and is emitted unescaped.
func renderHTML(w io.Writer, title, body string, downloads []models.DownloadEntry) error {
	return articleTemplate.Execute(w, pageData{
		Title:     title,
		Body:      template.HTML(body),
		Downloads: downloads,
	})
}

func writeHTML(path, title, body string, downloads []models.DownloadEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := renderHTML(f, title, body, downloads); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

func renderMarkdown(converter *md.Converter, title, body string, downloads []models.DownloadEntry) (string, error) {
	content, err := converter.ConvertString(body)
	if err != nil {
		return "", fmt.Errorf("convert body: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if content != "" {
		b.WriteString(content)
		b.WriteString("\n")
	}
	if len(downloads) > 0 {
		b.WriteString("\n## Attachments\n\n")
		for _, d := range downloads {
			fmt.Fprintf(&b, "- [%s](<%s>) (%s MB)\n", d.Title, d.Link, d.SizeMB)
		}
	}
	return b.String(), nil
}

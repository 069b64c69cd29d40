package staticfileserver

import (
	"bytes"
	"embed"
	"html/template"
)

//go:embed templates/dir.tpl
var templateFS embed.FS

var dirListTemplate = template.Must(template.ParseFS(templateFS, "templates/dir.tpl"))

// Renderer turns a listing into a response body. The handler serves the
// result as text/html.
type Renderer func(*DirectoryListing) ([]byte, error)

// RenderHTML is the default Renderer.
func RenderHTML(listing *DirectoryListing) ([]byte, error) {
	var buf bytes.Buffer
	if err := dirListTemplate.Execute(&buf, listing); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

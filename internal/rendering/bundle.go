package rendering

import (
	"archive/zip"
	"bytes"
	"embed"
	"encoding/json"
	htmltemplate "html/template"
	"io"
	"regexp"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/jonathan/storefront-agent/internal/types"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Bundle entry names
const (
	HTMLFile     = "product.html"
	MarkdownFile = "product.md"
	ContentFile  = "content.json"
)

// ZipContentType is the content type of a serialized bundle
const ZipContentType = "application/zip"

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/product.html.tmpl"))
	mdTmpl   = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/product.md.tmpl"))
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// ZipSerializer renders an artifact as a zip with printable HTML, Markdown and the raw JSON
type ZipSerializer struct {
	// Now stamps the zip entries; defaults to time.Now
	Now func() time.Time
}

// NewZipSerializer creates a ZipSerializer
func NewZipSerializer() *ZipSerializer {
	return &ZipSerializer{Now: time.Now}
}

// Serialize builds the bundle
func (s *ZipSerializer) Serialize(artifact *types.Artifact) (*types.Blob, error) {
	if artifact == nil {
		return nil, &RenderError{Message: "nil artifact"}
	}

	var htmlBuf, mdBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, artifact); err != nil {
		return nil, &TemplateError{Template: HTMLFile, Cause: err}
	}
	if err := mdTmpl.Execute(&mdBuf, artifact); err != nil {
		return nil, &TemplateError{Template: MarkdownFile, Cause: err}
	}
	content, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, &RenderError{Message: "failed to marshal artifact", Cause: err}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	modified := now()

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{HTMLFile, htmlBuf.Bytes()},
		{MarkdownFile, mdBuf.Bytes()},
		{ContentFile, content},
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return nil, &RenderError{Message: "failed to add " + entry.name, Cause: err}
		}
		if _, err := io.Copy(w, bytes.NewReader(entry.data)); err != nil {
			return nil, &RenderError{Message: "failed to write " + entry.name, Cause: err}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, &RenderError{Message: "failed to finish zip", Cause: err}
	}

	return &types.Blob{
		Data:        out.Bytes(),
		FileName:    Slug(artifact.Title) + ".zip",
		ContentType: ZipContentType,
	}, nil
}

// Slug turns a title into a file-name-safe slug
func Slug(title string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	if slug == "" {
		return "product"
	}
	return slug
}

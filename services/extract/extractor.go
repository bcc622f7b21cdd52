package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/clbanning/mxj/v2"
	"github.com/ledongthuc/pdf"
	"gopkg.in/yaml.v3"

	"github.com/raglab-search/models"
)

// Extract converts validated bytes of a declared format into normalized
// UTF-8 text: PDF and HTML become Markdown-like text, JSON and XML are
// re-serialized as YAML (less-noisy tokenization), everything else passes
// through as UTF-8. Extraction yielding only whitespace is an error.
func Extract(filename string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = extractPDF(content)
	case ".html":
		text, err = extractHTML(content)
	case ".json":
		text, err = extractJSON(content)
	case ".xml":
		text, err = extractXML(content)
	case ".yaml", ".yml":
		text, err = extractYAML(content)
	default:
		text, err = extractText(content)
	}
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", models.NewServiceError(models.ErrKindEmptyExtraction,
			fmt.Sprintf("no text could be extracted from '%s'", filename))
	}

	return text, nil
}

func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", models.WrapServiceError(models.ErrKindExtractionFailed, "corrupted PDF", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not fail the document; image-only
			// PDFs end up empty and are rejected by the emptiness gate.
			continue
		}
		pages = append(pages, text)
	}

	return strings.Join(pages, "\n\n"), nil
}

func extractHTML(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", models.NewServiceError(models.ErrKindExtractionFailed, "HTML content is not valid UTF-8")
	}
	markdown, err := htmltomarkdown.ConvertString(string(content))
	if err != nil {
		return "", models.WrapServiceError(models.ErrKindExtractionFailed, "HTML conversion failed", err)
	}
	return markdown, nil
}

func extractJSON(content []byte) (string, error) {
	var parsed any
	if err := json.Unmarshal(content, &parsed); err != nil {
		return "", models.WrapServiceError(models.ErrKindExtractionFailed, "invalid JSON syntax", err)
	}
	return toYAML(parsed)
}

func extractXML(content []byte) (string, error) {
	parsed, err := mxj.NewMapXml(content)
	if err != nil {
		return "", models.WrapServiceError(models.ErrKindExtractionFailed, "invalid XML syntax", err)
	}
	return toYAML(map[string]any(parsed))
}

func extractYAML(content []byte) (string, error) {
	var parsed any
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return "", models.WrapServiceError(models.ErrKindExtractionFailed, "invalid YAML syntax", err)
	}
	// Already YAML; pass the original text through once it parses.
	return extractText(content)
}

func extractText(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", models.NewServiceError(models.ErrKindExtractionFailed, "content is not valid UTF-8 text")
	}
	return string(content), nil
}

func toYAML(value any) (string, error) {
	out, err := yaml.Marshal(value)
	if err != nil {
		return "", models.WrapServiceError(models.ErrKindExtractionFailed, "YAML serialization failed", err)
	}
	return string(out), nil
}

// ContentTypeFor returns the MIME type to serve a stored original under.
func ContentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".html":
		return "text/html"
	case ".csv":
		return "text/csv"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "text/plain"
	}
}

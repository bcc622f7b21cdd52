package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/raglab-search/models"
)

// Policy selects how strictly a format is validated before extraction.
type Policy string

const (
	// PolicyStrict requires a magic-byte match and a successful parse.
	PolicyStrict Policy = "strict"
	// PolicyStructured requires the content to parse as its declared format.
	PolicyStructured Policy = "structured"
	// PolicyLenient only requires valid UTF-8 text.
	PolicyLenient Policy = "lenient"
)

// MaxFileSize caps uploads at 100MB.
const MaxFileSize = 100 * 1024 * 1024

var strictFormats = map[string]struct{}{
	".pdf": {},
}

var structuredFormats = map[string]struct{}{
	".json": {},
	".xml":  {},
	".yaml": {},
	".yml":  {},
}

var textFormats = map[string]struct{}{
	".txt":      {},
	".md":       {},
	".markdown": {},
	".rst":      {},
	".log":      {},
	".csv":      {},
	".toml":     {},
	".ini":      {},
	".py":       {},
	".js":       {},
	".html":     {},
	".css":      {},
}

// signatures maps extensions to required magic bytes. Text formats carry no
// signature and are accepted at this tier.
var signatures = map[string][]byte{
	".pdf":  []byte("%PDF"),
	".zip":  {0x50, 0x4B, 0x03, 0x04},
	".docx": {0x50, 0x4B, 0x03, 0x04},
}

// SupportedExtensions returns the sorted allow-list.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(strictFormats)+len(structuredFormats)+len(textFormats))
	for ext := range strictFormats {
		exts = append(exts, ext)
	}
	for ext := range structuredFormats {
		exts = append(exts, ext)
	}
	for ext := range textFormats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// PolicyFor returns the validation policy for an extension and whether the
// extension is supported at all.
func PolicyFor(ext string) (Policy, bool) {
	if _, ok := strictFormats[ext]; ok {
		return PolicyStrict, true
	}
	if _, ok := structuredFormats[ext]; ok {
		return PolicyStructured, true
	}
	if _, ok := textFormats[ext]; ok {
		return PolicyLenient, true
	}
	return "", false
}

// Validation describes an admitted file.
type Validation struct {
	Ext    string
	Policy Policy
}

// Validate runs admission tiers 1 and 2: size cap, extension allow-list, and
// magic-byte check for signed formats. Tier 3 (extraction must yield
// non-empty text) is enforced by Extract.
func Validate(filename string, content []byte) (*Validation, error) {
	if len(content) > MaxFileSize {
		return nil, models.NewServiceError(models.ErrKindFileTooLarge,
			fmt.Sprintf("file '%s' exceeds the %dMB size limit", filename, MaxFileSize/1024/1024))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, models.NewServiceError(models.ErrKindUnsupportedFormat,
			fmt.Sprintf("file '%s' has no extension; supported: %s", filename, strings.Join(SupportedExtensions(), ", ")))
	}

	policy, ok := PolicyFor(ext)
	if !ok {
		return nil, models.NewServiceError(models.ErrKindUnsupportedFormat,
			fmt.Sprintf("unsupported file extension '%s'; supported: %s", ext, strings.Join(SupportedExtensions(), ", ")))
	}

	if sig, signed := signatures[ext]; signed {
		if !bytes.HasPrefix(content, sig) {
			return nil, models.NewServiceError(models.ErrKindSignatureMismatch,
				fmt.Sprintf("content of '%s' does not match the %s signature", filename, ext))
		}
	}

	return &Validation{Ext: ext, Policy: policy}, nil
}

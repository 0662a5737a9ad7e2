package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Inspector reads generated documents back: it validates them, extracts their
// text and reports where images were placed.
type Inspector struct {
	maxFileSize int64
	maxTextSize int
	validator   *Validator
}

// NewInspector creates an inspector with the specified size limit.
func NewInspector(maxFileSize int64) *Inspector {
	return &Inspector{
		maxFileSize: maxFileSize,
		maxTextSize: 1024 * 1024,
		validator:   NewValidator(maxFileSize),
	}
}

// InspectFile inspects the document stored at path.
func (i *Inspector) InspectFile(path string) (*Inspection, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	fileInfo, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot access file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return nil, fmt.Errorf("file is not a PDF: %s", path)
	}
	if fileInfo.Size() > i.maxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max: %d bytes)", fileInfo.Size(), i.maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read file: %w", err)
	}

	result, err := i.Inspect(data)
	if err != nil {
		return nil, err
	}
	result.Path = path
	return result, nil
}

// Inspect inspects an in-memory document. A document that fails validation
// is reported through Valid/Message rather than as an error.
func (i *Inspector) Inspect(data []byte) (*Inspection, error) {
	result := &Inspection{Size: int64(len(data))}

	pages, err := i.validator.Validate(data)
	if err != nil {
		result.Message = err.Error()
		return result, nil //nolint:nilerr // validation failure is a result, not a processing error
	}
	result.Valid = true
	result.Pages = pages

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	result.Meta = extractMetadata(r)
	result.Content = extractTextContent(r, i.maxTextSize)
	result.Images = extractImagesFromPages(r)
	if footer, ok := ParseFooter(result.Content); ok {
		result.Footer = footer
	}

	return result, nil
}

package mcp

import (
	"fmt"
	"strings"

	"github.com/a3tai/mcp-form-pdf/internal/descriptions"
	"github.com/a3tai/mcp-form-pdf/internal/forms"
	"github.com/a3tai/mcp-form-pdf/internal/pdf"
	"github.com/a3tai/mcp-form-pdf/internal/schema"
)

const timeLayout = "2006-01-02 15:04:05"

func formatFormList(list []schema.FormSchema) string {
	if len(list) == 0 {
		return "No forms are configured"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d form(s)\n\n", len(list))
	for i, f := range list {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f.ID)
		fmt.Fprintf(&b, "   Title: %s\n", f.Title)
		fmt.Fprintf(&b, "   Fields: %d", len(f.Fields))
		if files := f.FileFields(); len(files) > 0 {
			fmt.Fprintf(&b, " (uploads: %s)", strings.Join(files, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatFormSchema(form schema.FormSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Form: %s\n", form.ID)
	fmt.Fprintf(&b, "Title: %s\n", form.Title)
	fmt.Fprintf(&b, "\nFields (%d, in page order):\n", len(form.Fields))
	for i, f := range form.Fields {
		fmt.Fprintf(&b, "%d. %s (%s) - %s", i+1, f.Name, f.Kind, f.Label)
		if f.Kind == schema.KindFile {
			fmt.Fprintf(&b, " [%s]", placement(f.Slot))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func placement(slot schema.Slot) string {
	switch slot {
	case schema.SlotPhoto:
		return "photo, top right"
	case schema.SlotSignature:
		return "signature image with caption"
	default:
		return "file name shown in a row"
	}
}

func formatGenerateResult(r *forms.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generated %s for %s\n", r.FormID, r.UserID)
	fmt.Fprintf(&b, "File: %s\n", r.Filename)
	fmt.Fprintf(&b, "Serial No: %s\n", r.Serial)
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format(timeLayout))
	fmt.Fprintf(&b, "Size: %d bytes\n", len(r.Data))

	if r.Overflowed {
		b.WriteString("\nWARNING: content runs past the bottom of the page and will be clipped.\n")
	}
	if len(r.Unrenderable) > 0 {
		fmt.Fprintf(&b, "\nWARNING: the document font cannot draw some characters in: %s\n",
			strings.Join(r.Unrenderable, ", "))
	}
	if !r.Registered() {
		fmt.Fprintf(&b, "\nWARNING: the document was not added to the user's history: %v\n", r.RegistrationErr)
		if r.Retryable {
			b.WriteString("The record store could not be written; retrying later may succeed.\n")
		}
	}
	return b.String()
}

func formatInspection(filename string, in *pdf.Inspection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", filename)
	fmt.Fprintf(&b, "Size: %d bytes\n", in.Size)
	if !in.Valid {
		fmt.Fprintf(&b, "Valid: false (%s)\n", in.Message)
		return b.String()
	}
	b.WriteString("Valid: true\n")
	fmt.Fprintf(&b, "Pages: %d\n", in.Pages)
	if in.Meta.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", in.Meta.Title)
	}
	if in.Meta.CreationDate != "" {
		fmt.Fprintf(&b, "Created: %s\n", in.Meta.CreationDate)
	}

	if in.Footer != nil {
		fmt.Fprintf(&b, "Footer date: %s\n", in.Footer.Date)
		fmt.Fprintf(&b, "Serial No: %s\n", in.Footer.Serial)
	} else {
		b.WriteString("Footer: not found\n")
	}

	fmt.Fprintf(&b, "\nImages: %d\n", len(in.Images))
	for i, img := range in.Images {
		fmt.Fprintf(&b, "%d. Page %d: %.1fx%.1f mm at (%.1f, %.1f) mm, %dx%d pixels, Format: %s\n",
			i+1, img.PageNumber, img.W, img.H, img.X, img.Y, img.PixelW, img.PixelH, img.Format)
	}

	b.WriteString("\nContent:\n")
	b.WriteString(in.Content)
	return b.String()
}

func formatUserDocuments(userID string, docs []forms.StoredDocument) string {
	if len(docs) == 0 {
		return fmt.Sprintf("No documents generated for %s", userID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d document(s) for %s:\n", len(docs), userID)
	for i, d := range docs {
		if d.Exists {
			fmt.Fprintf(&b, "%d. %s (%d bytes)\n", i+1, d.Filename, d.Size)
		} else {
			fmt.Fprintf(&b, "%d. %s (missing on disk)\n", i+1, d.Filename)
		}
	}
	return b.String()
}

func (s *Server) formatServerInfo() string {
	cfg := s.config
	var b strings.Builder
	fmt.Fprintf(&b, "%s v%s - Server Information\n", cfg.ServerName, cfg.Version)
	fmt.Fprintf(&b, "Mode: %s\n", cfg.Mode)
	fmt.Fprintf(&b, "Artifact directory: %s\n", s.artifacts.Dir())
	fmt.Fprintf(&b, "Upload directory: %s\n", s.forms.UploadDir())
	fmt.Fprintf(&b, "Max image size: %d MB\n", cfg.MaxFileSize/(1024*1024))
	fmt.Fprintf(&b, "Collision policy: %s\n", cfg.CollisionPolicy)
	fmt.Fprintf(&b, "User store: %s\n", cfg.Store)
	fmt.Fprintf(&b, "Workers: %d\n", cfg.Workers)

	list := s.schemas.List()
	fmt.Fprintf(&b, "\nForms (%d):\n", len(list))
	for _, f := range list {
		fmt.Fprintf(&b, "  - %s: %s\n", f.ID, f.Title)
	}

	b.WriteString("\nAvailable Tools:\n")
	for _, name := range descriptions.GetAllToolNames() {
		desc := descriptions.GetToolDescription(name)
		if i := strings.Index(desc, "\n"); i > 0 {
			desc = desc[:i]
		}
		fmt.Fprintf(&b, "  - %s: %s\n", name, desc)
	}

	b.WriteString("\nTypical flow: form_list -> form_describe -> form_generate -> form_document_inspect\n")
	return b.String()
}

package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/mcp-form-pdf/internal/artifact"
	"github.com/a3tai/mcp-form-pdf/internal/config"
	"github.com/a3tai/mcp-form-pdf/internal/descriptions"
	"github.com/a3tai/mcp-form-pdf/internal/forms"
	"github.com/a3tai/mcp-form-pdf/internal/pdf"
	"github.com/a3tai/mcp-form-pdf/internal/schema"
	"github.com/a3tai/mcp-form-pdf/internal/userstore"
)

// Deps are the services the tools call into.
type Deps struct {
	Forms     *forms.Service
	Schemas   *schema.Store
	Artifacts *artifact.Store
	Inspector *pdf.Inspector
	Logger    *slog.Logger
}

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	forms     *forms.Service
	schemas   *schema.Store
	artifacts *artifact.Store
	inspector *pdf.Inspector
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Forms == nil || deps.Schemas == nil || deps.Artifacts == nil || deps.Inspector == nil {
		return nil, fmt.Errorf("forms, schemas, artifacts and inspector are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		config:    cfg,
		forms:     deps.Forms,
		schemas:   deps.Schemas,
		artifacts: deps.Artifacts,
		inspector: deps.Inspector,
		logger:    deps.Logger,
		mcpServer: mcpServer,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.FormList,
		mcp.WithDescription(descriptions.FormListDescription),
	), s.handleFormList)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.FormDescribe,
		mcp.WithDescription(descriptions.FormDescribeDescription),
		mcp.WithString("form_id",
			mcp.Required(),
			mcp.Description("Form identifier, e.g. \"general\""),
		),
	), s.handleFormDescribe)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.FormGenerate,
		mcp.WithDescription(descriptions.FormGenerateDescription),
		mcp.WithString("form_id",
			mcp.Required(),
			mcp.Description("Form identifier"),
		),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Identifier of the user the document belongs to"),
		),
		mcp.WithObject("values",
			mcp.Description("Text and date answers keyed by field name"),
		),
		mcp.WithObject("files",
			mcp.Description("Stored upload paths keyed by file field name, relative to the upload directory"),
		),
		mcp.WithBoolean("include_pdf",
			mcp.Description("Also return the PDF as an embedded base64 resource"),
		),
	), s.handleFormGenerate)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.FormDocumentInspect,
		mcp.WithDescription(descriptions.FormDocumentInspectDescription),
		mcp.WithString("filename",
			mcp.Required(),
			mcp.Description("Generated document file name"),
		),
	), s.handleDocumentInspect)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.UserDocuments,
		mcp.WithDescription(descriptions.UserDocumentsDescription),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("User identifier"),
		),
	), s.handleUserDocuments)

	s.mcpServer.AddTool(mcp.NewTool(
		descriptions.FormServerInfo,
		mcp.WithDescription(descriptions.FormServerInfoDescription),
	), s.handleServerInfo)
}

// Handler functions
func (s *Server) handleFormList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatFormList(s.schemas.List())), nil
}

func (s *Server) handleFormDescribe(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formID, err := request.RequireString("form_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	form, err := s.schemas.Get(formID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("form not found: %s", formID)), nil
	}
	return mcp.NewToolResultText(formatFormSchema(form)), nil
}

func (s *Server) handleFormGenerate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formID, err := request.RequireString("form_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	values, err := stringMap(args["values"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("values: %v", err)), nil
	}
	files, err := stringMap(args["files"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("files: %v", err)), nil
	}
	includePDF, _ := args["include_pdf"].(bool)

	result, err := s.forms.Generate(ctx, forms.Request{
		FormID: formID,
		UserID: userID,
		Values: values,
		Files:  files,
	})
	if err != nil {
		return mcp.NewToolResultError(generateErrorMessage(formID, err)), nil
	}

	text := formatGenerateResult(result)
	if !includePDF {
		return mcp.NewToolResultText(text), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
			mcp.NewEmbeddedResource(mcp.BlobResourceContents{
				URI:      "artifact://" + result.Filename,
				MIMEType: "application/pdf",
				Blob:     base64.StdEncoding.EncodeToString(result.Data),
			}),
		},
	}, nil
}

// generateErrorMessage keeps render causes (file system details) in the log.
func generateErrorMessage(formID string, err error) string {
	var renderErr *pdf.RenderError
	switch {
	case errors.Is(err, schema.ErrSchemaNotFound):
		return fmt.Sprintf("form not found: %s", formID)
	case errors.As(err, &renderErr):
		return fmt.Sprintf("could not render field %q: the uploaded file is missing or not a supported image", renderErr.Field)
	case errors.Is(err, forms.ErrInvalidRequest):
		return err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "document generation was cancelled"
	default:
		return "document generation failed; see server log"
	}
}

func (s *Server) handleDocumentInspect(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := request.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	path, err := s.artifacts.Path(filename)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("document not found: %s", filename)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	inspection, err := s.inspector.InspectFile(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatInspection(filename, inspection)), nil
}

func (s *Server) handleUserDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	docs, err := s.forms.Documents(ctx, userID)
	if err != nil {
		if errors.Is(err, userstore.ErrUserNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("user not found: %s", userID)), nil
		}
		s.logger.Error("cannot list user documents", slog.String("user", userID), slog.Any("error", err))
		return mcp.NewToolResultError("cannot read the user store; try again"), nil
	}
	return mcp.NewToolResultText(formatUserDocuments(userID, docs)), nil
}

func (s *Server) handleServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.formatServerInfo()), nil
}

// stringMap converts a JSON object argument to string values. Numbers and
// booleans are accepted and formatted as typed.
func stringMap(v any) (map[string]string, error) {
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}

	out := make(map[string]string, len(obj))
	for k, raw := range obj {
		switch val := raw.(type) {
		case nil:
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("field %q: expected a string, got %T", k, raw)
		}
	}
	return out, nil
}

// Run starts the MCP server in the configured mode
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsServerMode() {
		return s.runServerMode(ctx)
	}
	return s.runStdioMode(ctx)
}

// runStdioMode serves the protocol on stdin/stdout; logs stay on stderr.
func (s *Server) runStdioMode(ctx context.Context) error {
	s.logger.Debug("starting form MCP server in stdio mode",
		slog.String("artifacts", s.config.ArtifactDirectory),
		slog.String("schemas", s.config.SchemaFile))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

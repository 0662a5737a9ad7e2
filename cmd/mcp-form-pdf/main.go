package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/a3tai/mcp-form-pdf/internal/artifact"
	"github.com/a3tai/mcp-form-pdf/internal/config"
	"github.com/a3tai/mcp-form-pdf/internal/forms"
	"github.com/a3tai/mcp-form-pdf/internal/mcp"
	"github.com/a3tai/mcp-form-pdf/internal/pdf"
	"github.com/a3tai/mcp-form-pdf/internal/schema"
	"github.com/a3tai/mcp-form-pdf/internal/userstore"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// app is a fully wired server plus the resources it must release.
type app struct {
	server *mcp.Server
	users  *userstore.Users
}

func (a *app) Close() error {
	return a.users.Close()
}

// buildApp wires every component from cfg.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	schemas, err := schema.LoadPath(cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load form schemas: %w", err)
	}

	artifacts, err := artifact.NewStore(cfg.ArtifactDirectory, artifact.Policy(cfg.CollisionPolicy))
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact directory: %w", err)
	}

	composerOpts := []pdf.ComposerOption{pdf.WithLogger(logger)}
	if cfg.FontFile != "" {
		font, err := pdf.LoadFontFile(cfg.FontFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load document font: %w", err)
		}
		composerOpts = append(composerOpts, pdf.WithFont(font))
	}

	users, err := openUsers(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	svc, err := forms.NewService(forms.Config{
		Schemas:   schemas,
		Composer:  pdf.NewComposer(cfg.MaxFileSize, composerOpts...),
		Artifacts: artifacts,
		Users:     users,
		UploadDir: cfg.UploadDirectory,
		Workers:   cfg.Workers,
		Logger:    logger,
	})
	if err != nil {
		_ = users.Close()
		return nil, fmt.Errorf("failed to create form service: %w", err)
	}

	server, err := mcp.NewServer(cfg, mcp.Deps{
		Forms:     svc,
		Schemas:   schemas,
		Artifacts: artifacts,
		Inspector: pdf.NewInspector(cfg.InspectLimit()),
		Logger:    logger,
	})
	if err != nil {
		_ = users.Close()
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Debug("server wired",
		slog.Int("forms", schemas.Len()),
		slog.String("store", cfg.Store),
		slog.String("artifacts", artifacts.Dir()))
	return &app{server: server, users: users}, nil
}

// openUsers opens the configured record store. A SQL store picks up any
// records from an existing users file that it does not hold yet.
func openUsers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*userstore.Users, error) {
	opts := []userstore.Option{userstore.WithLogger(logger)}

	if cfg.Store != config.StoreSQL {
		users, err := userstore.OpenJSON(cfg.UserFile, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open user file: %w", err)
		}
		return users, nil
	}

	users, err := userstore.OpenSQL(cfg.DSN, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open user database %s: %w", cfg.SafeDSN(), err)
	}

	if cfg.UserFile == "" {
		return users, nil
	}
	if _, err := os.Stat(cfg.UserFile); err != nil {
		return users, nil
	}

	src, err := userstore.NewJSONStore(cfg.UserFile, userstore.DefaultKeys().ID)
	if err != nil {
		logger.Warn("skipping user file import", slog.String("file", cfg.UserFile), slog.Any("error", err))
		return users, nil
	}
	sqlStore, ok := users.Backend().(*userstore.SQLStore)
	if !ok {
		return users, nil
	}
	copied, err := sqlStore.Import(ctx, src)
	if err != nil {
		_ = users.Close()
		return nil, fmt.Errorf("failed to import %s: %w", cfg.UserFile, err)
	}
	if copied > 0 {
		logger.Info("imported user records", slog.String("file", cfg.UserFile), slog.Int("count", copied))
	}
	return users, nil
}

func run(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	logger := cfg.NewLogger(stderr)
	slog.SetDefault(logger)

	if cfg.IsDebug() {
		logger.Debug("starting with configuration", slog.String("config", cfg.String()))
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close user store", slog.Any("error", err))
		}
	}()

	if err := a.server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if cfg.IsServerMode() {
		logger.Info("server stopped successfully")
	}
	return nil
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion(os.Stdout)
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Set version if it was provided during build
	if version != "dev" {
		cfg.Version = version
	}

	// In stdio mode the parent process closes stdin; signals cover server mode.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx, cfg, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "MCP Form PDF\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", gitCommit)
	fmt.Fprintf(w, "Built with: %s\n", runtime.Version())
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/sitekb-mcp/internal/answer"
	"github.com/dshills/sitekb-mcp/internal/extractor"
	"github.com/dshills/sitekb-mcp/internal/mcp"
	"github.com/dshills/sitekb-mcp/internal/storage"
	"github.com/dshills/sitekb-mcp/pkg/types"
)

// withApp runs fn with wired components and a context cancelled on SIGINT or SIGTERM
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		// Log startup info to stderr (stdout reserved for MCP protocol)
		a.logger.Info("sitekb MCP server starting",
			zap.String("version", version),
			zap.String("build_mode", storage.BuildMode),
			zap.String("driver", storage.DriverName))

		a.recoverBuilds(ctx)

		server := mcp.NewServer(a.store, a.builds, a.answers, a.logger)
		a.logger.Info("MCP server ready, listening on stdio")
		if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("server error: %w", err)
		}
		a.logger.Info("server stopped")
		return nil
	})
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sitekb MCP Server\n")
	fmt.Fprintf(out, "Version: %s\n", version)
	fmt.Fprintf(out, "Build Time: %s\n", buildTime)
	fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
	fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	return nil
}

func runTenantAdd(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	urls := args[2:]
	for _, u := range urls {
		if err := extractor.ValidateSeed(u); err != nil {
			return err
		}
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		if _, err := a.store.UpsertTenant(ctx, &storage.Tenant{ID: id, Name: args[1], SeedURLs: urls}); err != nil {
			return err
		}
		report, err := a.builds.Status(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		for _, path := range args[1:] {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			upload := &storage.Upload{TenantID: id, Name: filepath.Base(path), Text: string(data)}
			if err := a.store.AddUpload(ctx, upload); err != nil {
				return fmt.Errorf("failed to store %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", upload.Name)
		}
		return nil
	})
}

// runBuild triggers a build and waits for it; the build cannot outlive the process
func runBuild(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		trigger := a.builds.TriggerBuild
		if buildRescrape {
			trigger = a.builds.TriggerRescrape
		}
		ack, err := trigger(ctx, id, buildURLs)
		if err != nil {
			return err
		}
		a.logger.Info("build started", zap.Int64("tenant_id", id), zap.String("build_id", ack.BuildID.String()))

		if err := a.builds.Wait(ctx, id); err != nil {
			return fmt.Errorf("build interrupted: %w", err)
		}

		report, err := a.builds.Status(ctx, id)
		if err != nil {
			return err
		}
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		if report.Status == types.StatusFailed {
			return fmt.Errorf("build failed: %s", report.ErrorMessage)
		}
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		report, err := a.builds.Status(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	})
}

func runAsk(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.answers.Ask(ctx, id, args[1], askTopK)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Text())
		if fb, ok := result.(*answer.Fallback); ok {
			a.logger.Debug("fallback answer", zap.String("reason", string(fb.Reason)))
		}
		return nil
	})
}

func runDisable(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		cancelled, err := a.builds.Disable(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "assistant disabled (build cancelled: %v)\n", cancelled)
		return nil
	})
}

func parseTenantID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tenant id %q: %w", s, types.ErrInvalidTenantID)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Command acpd is the long-running ACP agent runtime daemon: it loads
// configuration, wires the provider registry, the Session Manager, and
// one transport (stdio, or HTTP+SSE+WebSocket), then blocks until that
// transport exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/agentcore-run/acpcore/internal/config"
	"github.com/agentcore-run/acpcore/internal/logging"
	"github.com/agentcore-run/acpcore/internal/permission"
	"github.com/agentcore-run/acpcore/internal/provider"
	"github.com/agentcore-run/acpcore/internal/session"
	"github.com/agentcore-run/acpcore/internal/storage"
	"github.com/agentcore-run/acpcore/internal/transport"
)

func main() {
	stdio := flag.Bool("stdio", false, "serve one session over stdio instead of HTTP+WS")
	addr := flag.String("addr", ":8742", "listen address for the HTTP+WS transport")
	workDir := flag.String("workdir", ".", "project directory used for config discovery")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	sessionCap := flag.Int("session-cap", 0, "max resident sessions (0 = session manager default)")
	flag.Parse()

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(*logLevel),
		Output: os.Stderr,
		Pretty: *stdio == false,
	})

	if err := run(*stdio, *addr, *workDir, *sessionCap); err != nil {
		logging.Fatal().Err(err).Msg("acpd: fatal")
	}
}

func run(stdio bool, addr, workDir string, sessionCap int) error {
	_ = godotenv.Load()

	cfg, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("ensure paths: %w", err)
	}
	db := storage.New(paths.StoragePath())

	ctx := context.Background()
	registry, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize providers: %w", err)
	}

	mode := permission.Mode(cfg.PermissionMode)
	if mode == "" {
		mode = permission.ModeApprove
	}

	var bashPolicy *permission.BashPolicy
	if cfg.Permission != nil {
		bashPolicy = &permission.BashPolicy{
			Patterns:    permission.ParseBashPatterns(cfg.Permission.Bash),
			ExternalDir: permission.ParseAction(cfg.Permission.ExternalDir),
		}
	}

	capacity := sessionCap
	if capacity == 0 {
		capacity = cfg.SessionCap
	}
	mgr, err := session.NewManager(registry, db, mode, capacity, bashPolicy)
	if err != nil {
		return fmt.Errorf("new session manager: %w", err)
	}

	if stdio {
		logging.Info().Msg("acpd: serving one session over stdio")
		return transport.NewStdioTransport(mgr).Run()
	}

	handler := transport.NewHTTPTransport(mgr)
	logging.Info().Str("addr", addr).Msg("acpd: serving HTTP+SSE+WebSocket")
	return http.ListenAndServe(addr, handler)
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/config"
	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/inference"
	"github.com/hpungsan/strata/internal/logging"
	"github.com/hpungsan/strata/internal/mcp"
	"github.com/hpungsan/strata/internal/ops"
	"github.com/hpungsan/strata/internal/prompts"
	"github.com/hpungsan/strata/internal/surface"
	"github.com/hpungsan/strata/internal/turn"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "mcp": true,
	"session": true, "turn": true, "surface": true,
	"compile": true, "process": true, "stream": true,
	"roles": true, "health": true,
	"help": true,
}

// runtime holds the components shared by every command.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
	roles  *prompts.Registry
	svc    *ops.Service
}

// setup loads configuration and wires the service under baseDir.
func setup(baseDir string) (*runtime, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("could not determine working directory: %w", err)
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)
	journal := db.NewJournal(database)

	roles, err := prompts.NewRegistry(cfg.Prompts.Dir, logger)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	llm, err := inference.NewClient(inference.Config{
		BaseURL:        cfg.Inference.BaseURL,
		Model:          cfg.Inference.Model,
		RequestTimeout: cfg.Inference.RequestTimeout,
		MaxAttempts:    cfg.Inference.MaxAttempts,
		RetryDelays:    cfg.Inference.RetryDelays,
		ConnectTimeout: cfg.Inference.ConnectTimeout,
		IdleTimeout:    cfg.Inference.IdleTimeout,
		HealthTimeout:  cfg.Inference.HealthTimeout,
	}, inference.WithLogger(logger))
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create inference client: %w", err)
	}

	svc := ops.New(ops.Deps{
		Store:      surface.New(baseDir, logger),
		Turns:      turn.NewSequencer(turn.WithJournal(journal), turn.WithLogger(logger)),
		LLM:        llm,
		Roles:      roles,
		Journal:    journal,
		Model:      cfg.Inference.Model,
		WarnTokens: cfg.Capsule.WarnTokens,
		Logger:     logger,
	})

	return &runtime{cfg: cfg, logger: logger, db: database, roles: roles, svc: svc}, nil
}

// Close releases the database and flushes the logger.
func (r *runtime) Close() error {
	_ = r.logger.Sync()
	return r.db.Close()
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
       _             _
   ___| |_ _ __ __ _| |_ __ _
  / __| __| '__/ _' | __/ _' |
  \__ \ |_| | | (_| | || (_| |
  |___/\__|_|  \__,_|\__\__,_|

  Multi-stage LLM orchestration core

  Usage: strata <command> [options]
         strata --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before any setup
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir, err := config.DefaultBaseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	rt, err := setup(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(rt)
		if err := app.RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			rt.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'strata --help' for usage.\n")
		rt.Close()
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(ctx, rt.svc, rt.cfg.MCP, Version, rt.logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		rt.Close()
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/inference"
	"github.com/hpungsan/strata/internal/mcp"
	"github.com/hpungsan/strata/internal/ops"
	"github.com/hpungsan/strata/internal/server"
	"github.com/hpungsan/strata/internal/value"
)

// stdout is where command results go. Tests replace it.
var stdout io.Writer = os.Stdout

// stdin is where piped documents are read from. Tests replace it.
var stdin io.Reader = os.Stdin

// newCLIApp creates the CLI application with all commands.
func newCLIApp(rt *runtime) *cli.App {
	app := &cli.App{
		Name:    "strata",
		Usage:   "Multi-stage LLM orchestration core",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(rt),
			mcpCmd(rt),
			sessionCmd(rt),
			turnCmd(rt),
			surfaceCmd(rt),
			compileCmd(rt),
			processCmd(rt),
			streamCmd(rt),
			rolesCmd(rt),
			healthCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session id (defaults to the current session)"}
}

// serveCmd creates the serve command.
func serveCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server (JSON API, SSE and WebSocket streams, metrics)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (overrides server.bind)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port (overrides server.port)"},
			&cli.BoolFlag{Name: "mcp", Usage: "Also serve MCP over stdio"},
		},
		Action: func(c *cli.Context) error {
			cfg := rt.cfg.Server
			if c.IsSet("bind") {
				cfg.Bind = c.String("bind")
			}
			if c.IsSet("port") {
				cfg.Port = c.Int("port")
			}

			ctx := c.Context
			if err := rt.roles.Watch(ctx); err != nil {
				rt.logger.Warn("prompt override watch disabled", zap.Error(err))
			}

			srv := server.NewServer(rt.svc, cfg, rt.logger)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Run(gctx, srv, cfg.ShutdownTimeout, rt.logger)
			})
			if c.Bool("mcp") {
				g.Go(func() error {
					return mcp.Run(gctx, rt.svc, rt.cfg.MCP, Version, rt.logger)
				})
			}
			g.Go(func() error {
				if h := rt.svc.Health(gctx); !h.Inference {
					rt.logger.Warn("inference backend unreachable",
						zap.String("base_url", rt.cfg.Inference.BaseURL))
				}
				return nil
			})
			if err := g.Wait(); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP over stdio (the default when input is piped)",
		Action: func(c *cli.Context) error {
			if unknown := mcp.ValidateDisabledTools(rt.cfg.MCP.DisabledTools); len(unknown) > 0 {
				rt.logger.Warn("unknown tools in mcp.disabled_tools", zap.Strings("tools", unknown))
			}
			return mcp.Run(c.Context, rt.svc, rt.cfg.MCP, Version, rt.logger)
		},
	}
}

// sessionCmd creates the session command group.
func sessionCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Create, select and list sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a session and make it current",
				Action: func(c *cli.Context) error {
					return respond(rt.svc.CreateSession(c.Context))
				},
			},
			{
				Name:  "current",
				Usage: "Print the current session",
				Action: func(c *cli.Context) error {
					return respond(rt.svc.CurrentSession(c.Context))
				},
			},
			{
				Name:      "use",
				Usage:     "Make a session current",
				ArgsUsage: "<session-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return outputError(errors.NewInvalidRequest("session id is required"))
					}
					return respond(rt.svc.UseSession(c.Context, c.Args().First()))
				},
			},
			{
				Name:  "list",
				Usage: "List sessions, newest first",
				Action: func(c *cli.Context) error {
					return respond(rt.svc.ListSessions(c.Context))
				},
			},
		},
	}
}

// turnCmd creates the turn command group.
func turnCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "turn",
		Usage: "Drive the turn lifecycle",
		Subcommands: []*cli.Command{
			{
				Name:  "begin",
				Usage: "Begin a turn",
				Flags: []cli.Flag{
					sessionFlag(),
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Required: true, Usage: "User input"},
					&cli.StringFlag{Name: "extensions", Usage: "Comma-separated extension chain"},
				},
				Action: func(c *cli.Context) error {
					return respond(rt.svc.BeginTurn(c.Context, ops.BeginTurnInput{
						SessionID:      c.String("session"),
						UserInput:      c.String("input"),
						ExtensionChain: parseList(c.String("extensions")),
					}))
				},
			},
			{
				Name:      "emit",
				Usage:     "Record a lifecycle event",
				ArgsUsage: "<event>",
				Flags:     []cli.Flag{sessionFlag()},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return outputError(errors.NewInvalidRequest("event name is required"))
					}
					return respond(rt.svc.EmitTurn(c.Context, ops.EmitTurnInput{
						SessionID: c.String("session"),
						Event:     c.Args().First(),
					}))
				},
			},
			{
				Name:      "fail",
				Usage:     "Mark the active turn failed",
				ArgsUsage: "<message>",
				Flags:     []cli.Flag{sessionFlag()},
				Action: func(c *cli.Context) error {
					return respond(rt.svc.FailTurn(c.Context, ops.FailTurnInput{
						SessionID: c.String("session"),
						Message:   strings.Join(c.Args().Slice(), " "),
					}))
				},
			},
			{
				Name:  "context",
				Usage: "Print the latest turn",
				Flags: []cli.Flag{sessionFlag()},
				Action: func(c *cli.Context) error {
					return respond(rt.svc.TurnContext(c.Context, c.String("session")))
				},
			},
			{
				Name:      "get",
				Usage:     "Print one journaled turn with its events",
				ArgsUsage: "<turn-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return outputError(errors.NewInvalidRequest("turn id is required"))
					}
					return respond(rt.svc.GetTurn(c.Context, ops.GetTurnInput{TurnID: c.Args().First()}))
				},
			},
			{
				Name:  "list",
				Usage: "List journaled turns, newest first",
				Flags: []cli.Flag{
					sessionFlag(),
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum turns to return"},
				},
				Action: func(c *cli.Context) error {
					return respond(rt.svc.ListTurns(c.Context, ops.ListTurnsInput{
						SessionID: c.String("session"),
						Limit:     c.Int("limit"),
					}))
				},
			},
		},
	}
}

// surfaceCmd creates the surface command group.
func surfaceCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "surface",
		Usage: "Read and write session documents",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Print a document",
				ArgsUsage: "<kind>",
				Flags:     []cli.Flag{sessionFlag()},
				Action: func(c *cli.Context) error {
					return respond(rt.svc.GetSurface(c.Context, ops.GetSurfaceInput{
						SessionID: c.String("session"),
						Surface:   c.Args().First(),
					}))
				},
			},
			{
				Name:      "put",
				Usage:     "Merge a JSON object read from stdin into a document",
				ArgsUsage: "<kind>",
				Flags:     []cli.Flag{sessionFlag()},
				Action: func(c *cli.Context) error {
					data, err := io.ReadAll(stdin)
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					content, err := value.Parse(data)
					if err != nil {
						return outputError(errors.NewInvalidRequest("content: " + err.Error()))
					}
					return respond(rt.svc.UpdateSurface(c.Context, ops.UpdateSurfaceInput{
						SessionID: c.String("session"),
						Surface:   c.Args().First(),
						Content:   content,
					}))
				},
			},
		},
	}
}

// compileCmd creates the compile command.
func compileCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "compile",
		Usage:     "Compile a capsule from variable paths",
		ArgsUsage: "<path>...",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "User input section"},
			&cli.BoolFlag{Name: "text", Usage: "Print only the capsule text"},
		},
		Action: func(c *cli.Context) error {
			out, err := rt.svc.CompileCapsule(c.Context, ops.CompileInput{
				SessionID: c.String("session"),
				Paths:     c.Args().Slice(),
				UserInput: c.String("input"),
			})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("text") {
				_, err := fmt.Fprintln(stdout, out.Text)
				return err
			}
			return outputJSON(out)
		},
	}
}

// processCmd creates the process command.
func processCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Run one pipeline role and store its response",
		ArgsUsage: "<llm-id>",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "surfaces", Usage: "Comma-separated variable paths (defaults to the role's variables)"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "User input section"},
			&cli.StringFlag{Name: "store-as", Usage: "Surface merging a JSON-object response, or surface.field taking the reply text"},
		},
		Action: func(c *cli.Context) error {
			return respond(rt.svc.Process(c.Context, ops.ProcessInput{
				SessionID: c.String("session"),
				LLMID:     c.Args().First(),
				Surfaces:  parseList(c.String("surfaces")),
				UserInput: c.String("input"),
				StoreAs:   c.String("store-as"),
			}))
		},
	}
}

// streamCmd creates the stream command.
func streamCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Run the streaming role, printing tokens as they arrive",
		ArgsUsage: "<llm-id>",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.StringFlag{Name: "surfaces", Usage: "Comma-separated variable paths (defaults to the role's variables)"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "User input section"},
		},
		Action: func(c *cli.Context) error {
			llmID := c.Args().First()
			if llmID == "" {
				llmID = rt.roles.StreamingRole().ID
			}
			events, err := rt.svc.Stream(c.Context, ops.StreamInput{
				SessionID: c.String("session"),
				LLMID:     llmID,
				Surfaces:  parseList(c.String("surfaces")),
				UserInput: c.String("input"),
			})
			if err != nil {
				return outputError(err)
			}
			for ev := range events {
				switch ev.Type {
				case inference.EventToken:
					fmt.Fprint(stdout, ev.Text)
				case inference.EventDone:
					fmt.Fprintln(stdout)
					return nil
				case inference.EventError:
					fmt.Fprintln(stdout)
					if ev.Err == nil {
						return outputError(errors.NewStreamFailed(nil))
					}
					return outputError(ev.Err)
				}
			}
			return outputError(errors.NewStreamFailed(c.Context.Err()))
		},
	}
}

// rolesCmd creates the roles command.
func rolesCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "roles",
		Usage: "List pipeline roles",
		Action: func(c *cli.Context) error {
			return outputJSON(map[string]any{"roles": rt.roles.Roles()})
		},
	}
}

// healthCmd creates the health command.
func healthCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Probe the inference backend",
		Action: func(c *cli.Context) error {
			return outputJSON(rt.svc.Health(c.Context))
		},
	}
}

// Helper functions

// respond prints an operation result or its error.
func respond[T any](out T, err error) error {
	if err != nil {
		return outputError(err)
	}
	return outputJSON(out)
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	p := errors.ToPayload(err)
	return cli.Exit(fmt.Sprintf("[%s] %s", p.Code, p.Message), 1)
}

// parseList splits a comma-separated string, dropping empty entries.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			items = append(items, t)
		}
	}
	return items
}

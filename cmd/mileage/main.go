package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hpungsan/mileage/internal/app"
	"github.com/hpungsan/mileage/internal/mcp"
	"github.com/hpungsan/mileage/internal/web"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"track": true, "recover": true,
	"manual": true, "p2p": true, "route": true,
	"list": true, "fetch": true, "delete": true, "summary": true,
	"export": true, "import": true, "job": true,
	"serve": true, "help": true,
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
	return isHelpOrVersion()
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
             _ _
   _ __ ___ (_) | ___  __ _  __ _  ___
  | '_ ' _ \| | |/ _ \/ _' |/ _' |/ _ \
  | | | | | | | |  __/ (_| | (_| |  __/
  |_| |_| |_|_|_|\___|\__,_|\__, |\___|
                            |___/
  Business mileage log

  Usage: mileage <command> [options]
         mileage --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Handle --help/--version before loading anything
	if isHelpOrVersion() {
		if err := newCLIApp(nil).RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	baseDir, err := app.BaseDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := app.LoadConfig(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	env := &environment{baseDir: baseDir, cfg: cfg, logOutput: os.Stderr}

	// CLI mode: known subcommand
	if isCLIMode() {
		if err := newCLIApp(env).RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'mileage --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := runMCP(ctx, env); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runMCP serves MCP over stdio, with the web UI alongside when web_port is set.
func runMCP(ctx context.Context, env *environment) error {
	if unknown := mcp.ValidateDisabledTools(env.cfg.DisabledTools); len(unknown) > 0 {
		log.Printf("[mcp] ignoring unknown disabled_tools: %v", unknown)
	}

	a, err := env.open(app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if insp, err := a.Startup(ctx); err != nil {
		return err
	} else if insp != nil {
		log.Printf("[recovery] interrupted trip %s pending (%d points, last saved %s); call recovery_resolve",
			insp.Snapshot.SessionID, insp.LoggedPoints, insp.LastSavedAgo)
	}

	if env.cfg.WebPort > 0 {
		srv := web.NewServer(a, Version, "127.0.0.1", env.cfg.WebPort)
		go func() {
			if err := web.Run(ctx, srv); err != nil {
				log.Printf("[web] %v", err)
			}
		}()
	}

	return mcp.Run(a, Version)
}

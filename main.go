package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/capability"
	"github.com/askdb/askdb/internal/client"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/db"
	"github.com/askdb/askdb/internal/dbexec"
	"github.com/askdb/askdb/internal/host"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/mcp"
	"github.com/askdb/askdb/internal/server"
	"github.com/askdb/askdb/internal/session"
	"github.com/askdb/askdb/internal/translate"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "ask":
		cmdAsk(os.Args[2:])
	case "seed":
		cmdSeed(os.Args[2:])
	case "mcp":
		cmdMCP(os.Args[2:])
	case "version":
		fmt.Printf("askdb %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`askdb - natural-language database query mediator

Usage:
  askdb serve [--config config.toml] [--addr :8100]
  askdb ask [--config config.toml] [--server URL] [question]
  askdb seed [--db data/askdb.db]
  askdb mcp [--config config.toml]
  askdb version
  askdb help

Commands:
  serve     Start the query server (session channel + capabilities)
  ask       Ask a question; no argument starts an interactive loop
  seed      Create the demo database with sample users and orders
  mcp       Expose the capabilities as MCP tools over stdio
  version   Print version
  help      Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	auditDB, err := db.Open(cfg.Database.AuditPath)
	if err != nil {
		log.Fatalf("opening audit database: %v", err)
	}
	defer auditDB.Close()

	auditLog := audit.NewSQLiteLogger(auditDB.DB)
	if err := auditLog.Init(); err != nil {
		log.Fatalf("initializing audit log: %v", err)
	}
	defer auditLog.Close()

	caps := buildRegistry(database, cfg)

	sessions := session.NewRegistry(caps,
		session.WithIdleTimeout(cfg.Session.IdleTimeout()),
		session.WithHeartbeatInterval(cfg.Session.HeartbeatInterval()),
		session.WithAuditLogger(auditLog),
	)

	handler := server.New(sessions, caps, slog.Default())
	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("askdb listening", "version", version, "addr", cfg.Server.Addr, "database", cfg.Database.Path)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sessions.RunReaper(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sessions.CloseAll("server shutdown")
		return httpSrv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func cmdAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	serverURL := fs.String("server", "", "query server URL (overrides config)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *serverURL != "" {
		cfg.Host.ServerURL = *serverURL
	}

	llmClient := llm.NewFromConfig(cfg.LLM)
	if len(llmClient.Providers()) == 0 {
		log.Fatalf("no LLM provider configured; set an API key in the [llm] config section")
	}

	ch := client.New(cfg.Host.ServerURL,
		client.WithRequestTimeout(cfg.Host.RequestTimeout()),
	)
	ctx := context.Background()
	if err := ch.Connect(ctx); err != nil {
		log.Fatalf("connecting to %s: %v", cfg.Host.ServerURL, err)
	}
	defer ch.Close()

	var opts []translate.Option
	if hint := schemaHint(ctx, ch); hint != "" {
		opts = append(opts, translate.WithSchemaHint(hint))
	}
	translator := translate.NewLLMTranslator(llmClient, cfg.LLM.Model, opts...)

	orch := host.New(translator, ch,
		host.WithMaxRounds(cfg.Host.MaxRounds),
		host.WithTranslationRetries(cfg.Host.TranslationRetries),
	)

	if question := strings.TrimSpace(strings.Join(fs.Args(), " ")); question != "" {
		answerOne(ctx, orch, question)
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nask> ")
		if !scanner.Scan() {
			return
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "q" || question == "quit" {
			return
		}
		answerOne(ctx, orch, question)
	}
}

func answerOne(ctx context.Context, orch *host.Orchestrator, question string) {
	answer, err := orch.Answer(ctx, question)
	if err != nil {
		var turnErr *host.TurnError
		if errors.As(err, &turnErr) {
			slog.Error("turn failed", "error", turnErr.Err)
			fmt.Println(turnErr.UserMessage)
			return
		}
		log.Fatalf("unexpected error: %v", err)
	}
	fmt.Println(answer)
}

// schemaHint pulls the database layout through the describe_schema
// capability so the translator can mention real tables in its prompt.
func schemaHint(ctx context.Context, ch *client.Client) string {
	result, err := ch.Invoke(ctx, capability.DescribeSchema, map[string]any{})
	if err != nil || result.Failed() {
		return ""
	}
	var b strings.Builder
	for _, row := range result.Rows {
		fmt.Fprintf(&b, "- %v.%v (%v)\n", row["table"], row["column"], row["type"])
	}
	return b.String()
}

func cmdSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	dbPath := fs.String("db", "data/askdb.db", "database path")
	fs.Parse(args)

	database, err := db.Open(*dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	if err := database.Seed(); err != nil {
		log.Fatalf("seeding database: %v", err)
	}
	fmt.Printf("demo database ready at %s\n", *dbPath)
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	srv := mcp.NewServer(buildRegistry(database, cfg))
	if err := mcpserver.ServeStdio(srv); err != nil {
		log.Fatalf("mcp server: %v", err)
	}
}

func buildRegistry(database *db.DB, cfg *config.Config) *capability.Registry {
	var execOpts []dbexec.Option
	if cfg.Executor.ReadOnly {
		execOpts = append(execOpts, dbexec.ReadOnly())
	}
	exec := dbexec.New(database.DB, execOpts...)

	caps := capability.NewRegistry(slog.Default())
	capability.RegisterSQL(caps, exec)
	capability.RegisterSchema(caps, database)
	return caps
}

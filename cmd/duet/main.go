// duet is an interactive chat CLI over a two-agent assistant pipeline: a
// planner agent answers directly or hands off to a rewriter agent via an
// in-band marker protocol.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"duet/pkg/assistants"
	"duet/pkg/chat"
	"duet/pkg/config"
	"duet/pkg/handoff"
	"duet/pkg/logx"
	"duet/pkg/metrics"
	"duet/pkg/runerrors"
	"duet/pkg/runner"
	"duet/pkg/store"
	"duet/pkg/threads"
	"duet/pkg/utils"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logx.SetDebugConfig(true, nil)
	}

	logger := logx.NewLogger("duet")
	if err := run(logger, *configPath); err != nil {
		os.Exit(1)
	}
}

// run boots the pipeline. Every failure path logs through logx.Wrap, so main
// only has to exit non-zero.
func run(logger *logx.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return logx.Wrap(err, "load config")
	}

	apiKey, err := resolveAPIKey()
	if err != nil {
		return logx.Wrap(err, "resolve API key")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return logx.Wrap(err, "open store")
	}
	defer func() { _ = st.Close() }()

	if cfg.FormatsPath != "" {
		formats, ferr := config.LoadFormats(cfg.FormatsPath)
		if ferr != nil {
			return logx.Wrap(ferr, "load formats")
		}
		if err := st.SeedFormats(formats); err != nil {
			return logx.Wrap(err, "seed formats")
		}
	}

	var recorder metrics.Recorder = metrics.NopRecorder{}
	if cfg.MetricsAddr != "" {
		recorder = metrics.NewPrometheusRecorder()
		go serveMetrics(logger, cfg.MetricsAddr)
	}

	var usage *metrics.QueryService
	if cfg.PrometheusURL != "" {
		usage, err = metrics.NewQueryService(cfg.PrometheusURL)
		if err != nil {
			return logx.Wrap(err, "prometheus query service")
		}
	}

	client := assistants.NewClientWithOptions(apiKey, cfg.BaseURL, time.Duration(cfg.RequestTimeout))
	poller := runner.NewPoller(client, cfg.Poll.Runner(), recorder)
	manager := threads.NewManager(client, st, cfg.AssistantIDs())
	orchestrator := handoff.NewOrchestrator(client, poller, manager, st, recorder, nil)

	counter, err := utils.NewTokenCounter()
	if err != nil {
		logger.Warn("Token counter unavailable, falling back to estimation: %v", err)
	}

	service := chat.NewService(orchestrator, manager, st, recorder, counter, cfg.MaxMessageChars)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return logx.Wrap(repl(ctx, service, usage), "read input")
}

// resolveAPIKey reads the API key from the environment, falling back to an
// interactive prompt when running on a terminal.
func resolveAPIKey() (string, error) {
	apiKey, err := config.APIKey()
	if err == nil {
		return apiKey, nil
	}
	if !runerrors.Is(err, runerrors.KindAPIKeyMissing) || !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", err
	}

	fmt.Fprintf(os.Stderr, "%s is not set. OpenAI API key: ", config.EnvAPIKey)
	raw, rerr := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if rerr != nil {
		return "", fmt.Errorf("failed to read API key: %w", rerr)
	}

	apiKey = strings.TrimSpace(string(raw))
	if apiKey == "" {
		return "", err
	}
	return apiKey, nil
}

func serveMetrics(logger *logx.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("Metrics listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed: %v", err)
	}
}

func repl(ctx context.Context, service *chat.Service, usage *metrics.QueryService) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("duet: type a message, /help for commands")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := handleCommand(ctx, service, usage, line)
			if err != nil {
				fmt.Printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		result, err := service.SendMessage(ctx, line)
		if err != nil {
			fmt.Printf("error [%s]: %v\n", runerrors.KindOf(err), err)
			continue
		}
		printTurn(result)
	}
}

func printTurn(result *handoff.TurnResult) {
	for _, msg := range result.Messages {
		switch msg.Role {
		case store.MessageRoleSystem:
			fmt.Printf("-- %s --\n", msg.Content)
		case store.MessageRoleAssistant:
			fmt.Println(msg.Content)
		}
	}
}

// handleCommand executes a slash command. Returns true when the REPL should
// exit.
func handleCommand(ctx context.Context, service *chat.Service, usage *metrics.QueryService, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		printHelp()
		return false, nil

	case "/quit", "/exit":
		return true, nil

	case "/new":
		thread, err := service.NewThread(ctx, store.RolePlanner)
		if err != nil {
			return false, err
		}
		fmt.Printf("started new conversation (%s)\n", thread.ID)
		return false, nil

	case "/formats":
		formats, err := service.ListFormats()
		if err != nil {
			return false, err
		}
		if len(formats) == 0 {
			fmt.Println("no formats defined")
			return false, nil
		}
		for _, f := range formats {
			kind := "predefined"
			if f.Custom {
				kind = "custom"
			}
			fmt.Printf("  %s (%s)\n", f.Name, kind)
		}
		return false, nil

	case "/format":
		return false, handleFormat(ctx, service, fields[1:])

	case "/transcript":
		messages, err := service.Transcript(ctx, store.RolePlanner)
		if err != nil {
			return false, err
		}
		for _, msg := range messages {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		}
		return false, nil

	case "/usage":
		return false, printUsage(ctx, service, usage)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
}

func handleFormat(ctx context.Context, service *chat.Service, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /format <name> | clear | custom <name> <instructions>")
	}

	switch args[0] {
	case "clear":
		if err := service.ClearFormat(ctx, store.RolePlanner); err != nil {
			return err
		}
		fmt.Println("format cleared")
		return nil

	case "custom":
		if len(args) < 3 {
			return fmt.Errorf("usage: /format custom <name> <instructions>")
		}
		name := args[1]
		instructions := strings.Join(args[2:], " ")
		if err := service.CreateCustomFormat(ctx, store.RolePlanner, name, instructions); err != nil {
			return err
		}
		fmt.Printf("custom format %q active\n", name)
		return nil

	default:
		if err := service.SelectFormat(ctx, store.RolePlanner, args[0]); err != nil {
			return err
		}
		fmt.Printf("format %q active\n", args[0])
		return nil
	}
}

func printUsage(ctx context.Context, service *chat.Service, usage *metrics.QueryService) error {
	if usage == nil {
		return fmt.Errorf("usage queries are disabled (set prometheus_url in the config)")
	}

	thread, err := service.ActiveThread(ctx, store.RolePlanner)
	if err != nil {
		return err
	}

	threadUsage, err := usage.GetThreadUsage(ctx, thread.ID)
	if err != nil {
		return err
	}
	fmt.Printf("thread %s: %d prompt + %d completion = %d tokens\n",
		threadUsage.ThreadID, threadUsage.PromptTokens, threadUsage.CompletionTokens, threadUsage.TotalTokens)

	byAgent, err := usage.GetAgentUsage(ctx)
	if err != nil {
		return err
	}
	for agent, tokens := range byAgent {
		fmt.Printf("  %s: %d tokens\n", agent, tokens)
	}
	return nil
}

func printHelp() {
	fmt.Println(`commands:
  /format <name>                    activate a format on the current thread
  /format clear                     deactivate the current format
  /format custom <name> <text...>   create and activate a custom format
  /formats                          list known formats
  /new                              start a fresh conversation
  /transcript                       print the cached conversation
  /usage                            show token usage (needs Prometheus)
  /quit                             exit`)
}

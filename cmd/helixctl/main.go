package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"helix-client/internal/infra/config"
	"helix-client/internal/infra/logger"
	"helix-client/internal/infra/tracer"
	"helix-client/pkg/gateway"
)

const version = "0.4.0"

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "health", "status", "chat", "history", "models", "sessions", "skills", "config", "presence", "events", "watch":
		if err := run(cmd, args); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'helixctl --help' for usage information.\n", cmd)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`helixctl - Helix gateway client

USAGE:
    helixctl COMMAND [ARGS]

COMMANDS:
    health            Probe gateway health
    status            Show gateway status summary
    chat MESSAGE      Send a chat message to the default session
    history [KEY]     Print session history
    models            List available models
    sessions          List active sessions
    skills            List installed skills
    config            Print the gateway configuration document
    presence          List connected clients
    events            Tail gateway events until interrupted
    watch             Monitor gateway health until interrupted

CONFIGURATION:
    Config file: ./helix.yaml (override with HELIXCTL_CONFIG)
    Environment: HELIX_* variables override config`)
}

func run(cmd string, args []string) error {
	cfgPath := os.Getenv("HELIXCTL_CONFIG")
	if cfgPath == "" {
		cfgPath = "helix.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	shutdownTracer, err := tracer.Setup(context.Background(), cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	connected := make(chan struct{}, 1)
	handlers := gateway.Handlers{
		Connected: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
		Error: func(err error) {
			log.Warn("gateway error", "error", err)
		},
	}
	if cmd == "events" {
		handlers.Event = func(f *gateway.Frame) {
			line, _ := json.Marshal(f)
			fmt.Println(string(line))
		}
	}

	opts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithRole(gateway.Role(cfg.Gateway.Role)),
		gateway.WithHandlers(handlers),
		gateway.WithBackoff(cfg.Gateway.Reconnect.Base, cfg.Gateway.Reconnect.Factor, cfg.Gateway.Reconnect.Max),
	}
	if cfg.Gateway.Token != "" {
		opts = append(opts, gateway.WithToken(cfg.Gateway.Token))
	}
	if cfg.Gateway.Password != "" {
		opts = append(opts, gateway.WithPassword(cfg.Gateway.Password))
	}
	if len(cfg.Gateway.Capabilities) > 0 {
		opts = append(opts, gateway.WithCaps(cfg.Gateway.Capabilities...))
	}
	if cfg.Gateway.Locale != "" {
		opts = append(opts, gateway.WithLocale(cfg.Gateway.Locale))
	}
	if cfg.Gateway.RequestRate > 0 {
		opts = append(opts, gateway.WithRequestLimit(cfg.Gateway.RequestRate, cfg.Gateway.RequestBurst))
	}

	reg := gateway.NewRegistry()
	defer reg.Close()

	client := reg.Set(gateway.New(cfg.Gateway.URL, "helixctl", version, opts...))
	client.Start()

	select {
	case <-connected:
	case <-time.After(15 * time.Second):
		return fmt.Errorf("timed out connecting to %s", cfg.Gateway.URL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "health":
		h, err := client.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Println(h.Status)
		return nil
	case "status":
		s, err := client.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(s)
	case "chat":
		if len(args) == 0 {
			return fmt.Errorf("usage: helixctl chat MESSAGE")
		}
		ack, err := client.ChatSend(ctx, "", strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printJSON(ack)
	case "history":
		key := ""
		if len(args) > 0 {
			key = args[0]
		}
		entries, err := client.ChatHistory(ctx, key, 50)
		if err != nil {
			return err
		}
		return printJSON(entries)
	case "models":
		models, err := client.ListModels(ctx)
		if err != nil {
			return err
		}
		return printJSON(models)
	case "sessions":
		sessions, err := client.ListSessions(ctx)
		if err != nil {
			return err
		}
		return printJSON(sessions)
	case "skills":
		skills, err := client.ListSkills(ctx)
		if err != nil {
			return err
		}
		return printJSON(skills)
	case "config":
		doc, err := client.ConfigGet(ctx)
		if err != nil {
			return err
		}
		fmt.Println(string(doc))
		return nil
	case "presence":
		entries, err := client.Presence(ctx)
		if err != nil {
			return err
		}
		return printJSON(entries)
	case "events":
		return waitForInterrupt()
	case "watch":
		mon := gateway.NewMonitor(client,
			gateway.WithProbeInterval(cfg.Monitor.Interval),
			gateway.WithProbeThreshold(cfg.Monitor.Threshold),
			gateway.WithMonitorLogger(log),
			gateway.WithStatusHandler(func(ch gateway.StatusChange) {
				fmt.Printf("%s %s: %s\n", ch.Timestamp.Format(time.RFC3339), ch.Status, ch.Message)
			}),
		)
		mon.Start()
		defer mon.Stop()
		return waitForInterrupt()
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func waitForInterrupt() error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

// Command synctail connects to a workflow execution backend and tails the
// state of the given nodes, printing each accepted update as JSON. It is a
// development companion to the rendering layer and exercises the full engine
// surface: connect, subscribe, health, and offline replay.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/flowdesk/nodesync/pkg/config"
	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/domain/types"
	"github.com/flowdesk/nodesync/pkg/storage"
	"github.com/flowdesk/nodesync/pkg/sync"
)

var (
	flagURL            string
	flagUseWebSocket   bool
	flagConfigFile     string
	flagCredentialRef  string
	flagJournalPath    string
	flagHealthInterval time.Duration
	flagFilterExpr     string
	flagLogLevel       string
)

func main() {
	root := &cobra.Command{
		Use:   "synctail NODE_ID [NODE_ID...]",
		Short: "Tail real-time node execution state from a workflow backend",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}

	root.Flags().StringVar(&flagURL, "url", "", "backend endpoint (SSE or WebSocket URL)")
	root.Flags().BoolVar(&flagUseWebSocket, "ws", false, "use the WebSocket transport")
	root.Flags().StringVar(&flagConfigFile, "config", "", "YAML connection config file")
	root.Flags().StringVar(&flagCredentialRef, "credential", "", "keyring credential for bearer auth")
	root.Flags().StringVar(&flagJournalPath, "journal", "", "SQLite journal path for received updates")
	root.Flags().DurationVar(&flagHealthInterval, "health-interval", 30*time.Second, "how often to print connection health")
	root.Flags().StringVar(&flagFilterExpr, "filter", "", `update filter expression, e.g. type == "progress"`)
	root.Flags().StringVar(&flagLogLevel, "log-level", "warn", "log level (trace|debug|info|warn|error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "synctail",
		Level: hclog.LevelFromString(flagLogLevel),
	})

	opts := sync.Options{Logger: logger}
	if flagJournalPath != "" {
		journal, err := storage.NewJournal(flagJournalPath)
		if err != nil {
			return err
		}
		opts.Journal = journal
	}

	engine := sync.NewEngineWithOptions(opts)
	defer func() { _ = engine.Close() }()

	for _, arg := range args {
		nodeID := types.NodeID(arg)
		callback := func(state *domain.NodeExecutionState) {
			printState(state)
		}
		if flagFilterExpr != "" {
			if _, err := engine.SubscribeExpr(nodeID, callback, flagFilterExpr); err != nil {
				return err
			}
		} else {
			engine.Subscribe(nodeID, callback, nil)
		}
	}

	if err := engine.Connect(cfg); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(flagHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printHealth(engine.GetConnectionHealth())
		case <-stop:
			fmt.Fprintln(os.Stderr, "shutting down")
			return nil
		}
	}
}

// buildConfig assembles the connection config from the config file and
// flags, flags winning.
func buildConfig() (*config.ConnectionConfig, error) {
	cfg := config.Default()
	if flagConfigFile != "" {
		loaded, err := config.LoadFromFile(flagConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flagURL != "" {
		if flagUseWebSocket {
			cfg.UseWebSocket = true
			cfg.WSURL = flagURL
		} else {
			cfg.EventSourceURL = flagURL
		}
	}
	if flagCredentialRef != "" {
		cfg.CredentialRef = flagCredentialRef
	}

	if cfg.CredentialRef != "" {
		resolved, err := cfg.ResolveCredential(config.NewKeyringCredentialStore())
		if err != nil {
			return nil, err
		}
		cfg = resolved
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printState(state *domain.NodeExecutionState) {
	data, err := json.Marshal(state)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render state: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printHealth(health sync.ConnectionHealth) {
	if health.IsHealthy {
		fmt.Fprintf(os.Stderr, "health: ok (state=%s updates=%d)\n",
			health.State, health.TotalUpdates)
		return
	}
	fmt.Fprintf(os.Stderr, "health: degraded (state=%s attempts=%d queued=%d): %v\n",
		health.State, health.ReconnectAttempts, health.QueuedUpdates, health.Issues)
}

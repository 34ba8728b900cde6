// Command agentbus runs the multi-agent system, either as a long-lived
// service or as an interactive chat session.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/agentbus-dev/agentbus"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "agentbus",
		Short:         "Local multi-agent orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(serveCmd(), chatCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent system until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := agentbus.LoadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return agentbus.Run(ctx, cfg)
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the agent system",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := agentbus.LoadConfig(configPath)
			if err != nil {
				return err
			}

			m, err := agentbus.NewManager(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := m.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := m.Stop(context.Background()); err != nil {
					log.Printf("shutdown: %v", err)
				}
			}()

			return chatLoop(ctx, m)
		},
	}
}

func chatLoop(ctx context.Context, m *agentbus.Manager) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("agentbus chat. Type 'status' for a system snapshot, 'exit' to quit.")
	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt("> ")
		if err != nil {
			// Ctrl-C and Ctrl-D both end the session.
			if err != liner.ErrPromptAborted {
				log.Printf("prompt: %v", err)
			}
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch input {
		case "exit", "quit":
			return nil
		case "status":
			printStatus(m)
		default:
			fmt.Println(m.ProcessUserQuery(ctx, "user", input, nil))
		}
	}
}

func printStatus(m *agentbus.Manager) {
	status := m.SystemStatus()
	fmt.Printf("running: %v, handlers: %d, conversations: %d\n",
		status.Running, status.Bus.Handlers, status.Conversations)
	for _, p := range status.Agents {
		fmt.Printf("  %-20s role=%-14s active=%-5v caps=%v\n", p.Name, p.Role, p.Active, p.Capabilities)
	}
	perf := status.Performance
	fmt.Printf("queries: %d total, %d failed, avg %s\n",
		perf.TotalQueries, perf.FailedQueries, perf.AverageResponseTime)
}

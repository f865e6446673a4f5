package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/moolen/lookout/internal/agent/runner"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat with the assistant",
	Long: `Start an interactive chat in the terminal. Each line is one turn; routing
decisions and team answers are printed as they arrive.

Type quit, exit or q (or an empty line) to leave. Slash commands such as
/model, /thread and /history are available; /help lists them.

Examples:
  # Start a new conversation
  lookout chat

  # Continue a conversation stored in the sqlite checkpoint store
  lookout chat --thread-id 6c0d...

  # Replay a scripted model for demos
  lookout chat --model mock:./scripts/problems.yaml`,
	RunE: runChat,
}

var (
	chatThreadID string
	chatModel    string
	chatMaxHops  int
)

func init() {
	chatCmd.Flags().StringVar(&chatThreadID, "thread-id", "", "Conversation to continue (default: a new uuid)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model to use (overrides model.name from the config)")
	chatCmd.Flags().IntVar(&chatMaxHops, "max-hops", 50, "Supervisor routing steps allowed per turn")
}

func runChat(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if chatModel != "" {
		cfg.Model.Name = chatModel
	}
	if cmd.Flags().Changed("max-hops") || cfg.Supervisor.MaxHops == 0 {
		cfg.Supervisor.MaxHops = chatMaxHops
	}
	if chatThreadID == "" {
		chatThreadID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := runner.New(ctx, runner.Config{App: cfg, ConfigPath: path, Version: Version})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	return r.NewREPL(os.Stdin, os.Stdout, chatThreadID).Run(ctx)
}

package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-staking/internal/api"
	"github/chapool/go-staking/internal/config"
	"golang.org/x/term"
)

const shutdownTimeout = 10 * time.Second

// NewSubcommandGroup returns a command that only groups subCommands; running it prints its help
func NewSubcommandGroup(name string, subCommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("%s related subcommands", name),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(subCommands...)
	return cmd
}

// ConfigureLogger applies the log level and console format of cfg to the global logger
func ConfigureLogger(cfg config.LoggerServer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(cfg.Level)
	if cfg.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.TimeFormat = "15:04:05"
			w.Out = os.Stderr
		}))
	}
}

// WithServer builds a server from cfg, runs fn with it and shuts the server down afterwards.
// The context passed to fn is cancelled on SIGINT and SIGTERM.
func WithServer(ctx context.Context, cfg config.Server, fn func(ctx context.Context, s *api.Server) error) error {
	ConfigureLogger(cfg.Logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	s, err := api.InitNewServer(ctx, cfg, PromptPassword("Keystore password: "))
	if err != nil {
		return errors.Wrap(err, "failed to initialize server")
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if errs := s.Shutdown(shutdownCtx); len(errs) > 0 {
			log.Error().Errs("shutdownErrors", errs).Msg("Failed to gracefully shut down server")
		}
	}()

	return fn(ctx, s)
}

// PromptPassword reads a password from the terminal without echo
func PromptPassword(prompt string) api.PasswordFunc {
	return func() (string, error) {
		if !term.IsTerminal(syscall.Stdin) {
			return "", errors.New("stdin is not a terminal")
		}

		//nolint:forbidigo // Password input requires direct terminal I/O
		fmt.Fprint(os.Stderr, prompt)
		passwordBytes, err := term.ReadPassword(syscall.Stdin)
		//nolint:forbidigo // Password input requires direct terminal I/O
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", errors.Wrap(err, "failed to read password from terminal")
		}

		return string(passwordBytes), nil
	}
}

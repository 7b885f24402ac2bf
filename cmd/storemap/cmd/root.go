// Package cmd holds the storemap command tree.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrsteele09/go-storemap-client/client"
	errs "github.com/jrsteele09/go-storemap-client/internal/errors"
	"github.com/jrsteele09/go-storemap-client/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	envFile  string
	logLevel string
	quiet    bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "storemap",
	Short: "Command-line client for the storemap store registry",
	Long: `Signs in to the storemap backend, keeps the session fresh and manages
registered stores and brands. Settings come from STOREMAP_* environment
variables or an .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.New(envFile)
		if err != nil {
			return err
		}
		cfg = c

		level := logLevel
		if level == "" {
			level = cfg.GetLogLevel()
		}
		setupLogging(level)

		if !quiet {
			displayAppname(cmd.ErrOrStderr(), cfg.GetAppName())
		}
		return nil
	},
}

// Execute runs the command tree until it completes or the process is signalled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", errs.UserMessage(err, err.Error()))
		log.Debug().Err(err).Msg("command failed")
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file with STOREMAP_* settings")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides STOREMAP_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "do not print the banner")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// withClient builds a client for one command, restores the persisted session and
// closes everything when fn returns.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx := cmd.Context()
	c, err := client.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Err(err).Msg("closing client")
		}
	}()
	c.Init(ctx)
	return fn(ctx, c)
}

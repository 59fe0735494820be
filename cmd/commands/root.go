package commands

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/neorix/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "neorix",
		Usage: "Mode-aware chat over a hosted LLM",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewGatewayCommand(),
			NewAskCommand(),
			NewChatCommand(),
			NewModesCommand(),
			NewStatusCommand(),
			NewSessionsCommand(),
			NewSecretsCommand(),
		},
	}
}

// setupLogging switches the default logger to a debug text handler on stderr when
// --debug is set or the configured level is "debug".
func setupLogging(cmd *cli.Command, level string) {
	if cmd.Bool("debug") || level == "debug" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
}

// loadConfig reads the config file named by --config, falling back to defaults when
// it cannot be read.
func loadConfig(cmd *cli.Command) *config.Config {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}
	return cfg
}

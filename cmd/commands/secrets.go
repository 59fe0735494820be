package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/neorix/internal/config"
	"github.com/dohr-michael/neorix/internal/secrets"
)

// NewSecretsCommand returns the secrets subcommand.
func NewSecretsCommand() *cli.Command {
	return &cli.Command{
		Name:  "secrets",
		Usage: "Store API keys sealed in the .env file",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Seal a value and write it to .env (prompted when omitted)",
				ArgsUsage: "<KEY> [value]",
				Action:    runSecretsSet,
			},
			{
				Name:  "key",
				Usage: "Print the public key, creating the identity if needed",
				Action: func(_ context.Context, _ *cli.Command) error {
					kr, err := secrets.CreateKeyring(secrets.KeyPath())
					if err != nil {
						return err
					}
					fmt.Println(kr.Recipient())
					return nil
				},
			},
		},
	}
}

func runSecretsSet(_ context.Context, cmd *cli.Command) error {
	key := cmd.Args().Get(0)
	if key == "" {
		return fmt.Errorf("usage: neorix secrets set <KEY> [value]")
	}

	value := cmd.Args().Get(1)
	if value == "" {
		v, err := readSecret(key)
		if err != nil {
			return err
		}
		value = v
	}
	if value == "" {
		return fmt.Errorf("empty value for %s", key)
	}

	kr, err := secrets.CreateKeyring(secrets.KeyPath())
	if err != nil {
		return err
	}
	sealed, err := kr.Seal(value)
	if err != nil {
		return err
	}
	if err := secrets.SetEntry(config.DotenvPath(), key, sealed); err != nil {
		return fmt.Errorf("write .env: %w", err)
	}

	fmt.Fprintf(os.Stderr, "%s sealed in %s (send SIGHUP to a running gateway to pick it up)\n", key, config.DotenvPath())
	return nil
}

// readSecret reads a value without echo from a terminal, or one line from piped stdin.
func readSecret(key string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "%s: ", key)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read value: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read value: %w", err)
	}
	return strings.TrimSpace(line), nil
}

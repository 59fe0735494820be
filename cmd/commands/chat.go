package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/neorix/internal/chat"
	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/models"
	"github.com/dohr-michael/neorix/internal/modes"
)

// NewChatCommand returns the chat subcommand: an in-process REPL.
func NewChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat interactively in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Starting mode (" + strings.Join(modes.Names(), ", ") + ")",
				Value:   string(modes.General),
			},
		},
		Action: runChat,
	}
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)
	setupLogging(cmd, cfg.Events.LogLevel)

	mode, err := modes.Parse(cmd.String("mode"))
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	registry := models.NewRegistry(cfg.Models)
	conv := chat.NewConversation(registry,
		chat.WithBus(bus),
		chat.WithSource(events.SourceCLI),
		chat.WithMode(mode),
	)
	defer conv.Close()

	r := &repl{
		conv:        conv,
		out:         os.Stdout,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
	return r.run(ctx, os.Stdin)
}

type repl struct {
	conv        *chat.Conversation
	out         io.Writer
	interactive bool
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, r.conv.Messages()[0].Text)
	if r.interactive {
		fmt.Fprintln(r.out, "Commands: /mode <name>, /modes, /quit")
	}

	scanner := bufio.NewScanner(in)
	for {
		if r.interactive {
			fmt.Fprintf(r.out, "[%s] > ", r.conv.Mode())
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := scanner.Text()
		if quit := r.handle(ctx, line); quit {
			return nil
		}
	}
}

// handle runs one input line and reports whether the REPL should stop.
func (r *repl) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return false
	case trimmed == "/quit" || trimmed == "/exit":
		return true
	case trimmed == "/modes":
		for _, m := range modes.All() {
			marker := " "
			if m == r.conv.Mode() {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %-14s %s\n", marker, m, modes.DisplayName(m))
		}
		return false
	case strings.HasPrefix(trimmed, "/mode"):
		arg := strings.TrimSpace(strings.TrimPrefix(trimmed, "/mode"))
		m, err := modes.Parse(arg)
		if err != nil {
			fmt.Fprintln(r.out, err)
			return false
		}
		if r.conv.ChangeMode(m) {
			msgs := r.conv.Messages()
			fmt.Fprintln(r.out, msgs[len(msgs)-1].Text)
		}
		return false
	}

	err := r.send(ctx, line)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrServiceUnavailable):
		fmt.Fprintln(r.out, r.conv.Err())
	case errors.Is(err, context.Canceled):
	default:
		fmt.Fprintln(r.out, "error:", err)
	}
	return false
}

// send streams the reply to line, printing each fragment as it arrives.
func (r *repl) send(ctx context.Context, line string) error {
	turn, err := r.conv.Begin(ctx, line)
	if turn == nil {
		return err
	}
	err = turn.Stream(func(fragment string) {
		fmt.Fprint(r.out, fragment)
	})
	fmt.Fprintln(r.out)
	return err
}

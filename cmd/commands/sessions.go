package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/neorix/internal/config"
	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/storage"
)

// NewSessionsCommand returns the sessions subcommand.
func NewSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Browse archived conversations",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List archived conversations",
				Action: runSessionsList,
			},
			{
				Name:      "show",
				Usage:     "Show the messages of a conversation",
				ArgsUsage: "<conversation_id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "events",
						Usage: "Print the event log instead of the archived transcript",
					},
				},
				Action: runSessionsShow,
			},
		},
		DefaultCommand: "list",
	}
}

func runSessionsList(_ context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)
	store, closeStore, err := openArchive(cfg.Archive)
	if err != nil {
		return err
	}
	defer closeStore()

	list, err := store.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tMODE\tMESSAGES\tTOKENS\tUPDATED\tTITLE")
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
			s.ID,
			s.Status,
			s.Mode,
			s.MessageCount,
			s.TokenUsage.Input, s.TokenUsage.Output,
			s.UpdatedAt.Format("2006-01-02 15:04"),
			title,
		)
	}
	return w.Flush()
}

func runSessionsShow(_ context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: neorix sessions show <conversation_id>")
	}

	if cmd.Bool("events") {
		return showEvents(sessionID)
	}

	cfg := loadConfig(cmd)
	store, closeStore, err := openArchive(cfg.Archive)
	if err != nil {
		return err
	}
	defer closeStore()

	msgs, err := store.LoadMessages(sessionID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	if len(msgs) == 0 {
		fmt.Println("No messages in this session.")
		return nil
	}

	for _, m := range msgs {
		marker := ""
		if m.Errored {
			marker = " (error)"
		}
		fmt.Printf("[%s] %s/%s%s: %s\n", m.Ts.Format("15:04:05"), m.Role, m.Mode, marker, m.Content)
	}
	return nil
}

func showEvents(sessionID string) error {
	evts, err := storage.ReadEvents(config.LogsPath(), sessionID)
	if err != nil {
		return err
	}
	if len(evts) == 0 {
		fmt.Println("No events logged for this session.")
		return nil
	}

	for _, e := range evts {
		line := ""
		switch e.Type {
		case events.EventUserMessage, events.EventAssistantMessage:
			line = fmt.Sprint(e.Payload["content"])
		case events.EventModeChanged:
			line = fmt.Sprintf("%v -> %v", e.Payload["from"], e.Payload["to"])
		case events.EventSessionCreated, events.EventSessionClosed:
			line = fmt.Sprint(e.Payload["id"])
		case events.EventLLMCall:
			line = fmt.Sprintf("%v %v", e.Payload["phase"], e.Payload["model"])
		}
		fmt.Printf("[%s] %-18s %s\n", e.Timestamp.Format("15:04:05"), e.Type, line)
	}
	return nil
}

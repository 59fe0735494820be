package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/neorix/clients/ws"
	"github.com/dohr-michael/neorix/internal/events"
	wsprotocol "github.com/dohr-michael/neorix/internal/gateway/ws"
	"github.com/dohr-michael/neorix/internal/modes"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send one message through the gateway and print the reply",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL",
				Value: "ws://127.0.0.1:18420/api/ws",
			},
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "Mode (" + strings.Join(modes.Names(), ", ") + ")",
				Value:   string(modes.General),
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 120,
			},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	setupLogging(cmd, "")

	message := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("usage: neorix ask <message>")
	}
	mode, err := modes.Parse(cmd.String("mode"))
	if err != nil {
		return err
	}

	timeoutSecs := cmd.Int("timeout")
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	client, err := wsclient.Dial(ctx, cmd.String("gateway"), string(mode))
	if err != nil {
		return fmt.Errorf("connect to gateway: %w", err)
	}
	defer client.Close()

	reqID, err := client.SendMessage(message)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	// Read frames until we get the final assistant.message
	streaming := false
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("timeout waiting for response")
			}
			return fmt.Errorf("read frame: %w", err)
		}

		if frame.Type == wsprotocol.FrameTypeResponse && frame.ID == reqID {
			if frame.OK != nil && !*frame.OK {
				return fmt.Errorf("gateway rejected message: %s", frame.Error)
			}
			continue
		}
		if frame.Event == "" {
			continue
		}

		switch events.EventType(frame.Event) {
		case events.EventAssistantStream:
			var payload events.AssistantStreamPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				continue
			}

			switch payload.Phase {
			case events.StreamPhaseStart:
				streaming = true
			case events.StreamPhaseDelta:
				fmt.Fprint(os.Stdout, payload.Content)
			case events.StreamPhaseEnd:
				if streaming {
					fmt.Fprintln(os.Stdout)
				}
			}

		case events.EventAssistantMessage:
			var payload events.AssistantMessagePayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				continue
			}

			if payload.Error != "" {
				return fmt.Errorf("%s", payload.Error)
			}

			if !streaming && payload.Content != "" {
				fmt.Fprintln(os.Stdout, payload.Content)
			}
			return nil
		}
	}
}

// Command mode_flow checks the mode and session lifecycle of a running gateway over WS.
//
// It needs no model credentials: it lists the modes, walks through every mode, and
// verifies that each change opens a new chat session while a repeated change does not.
//
// Usage: mode_flow -gateway ws://127.0.0.1:PORT/api/ws
//
// Exit codes:
//
//	0 = all checks passed
//	1 = a check failed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	wsclient "github.com/dohr-michael/neorix/clients/ws"
	"github.com/dohr-michael/neorix/internal/events"
	wsprotocol "github.com/dohr-michael/neorix/internal/gateway/ws"
)

func main() {
	gatewayURL := flag.String("gateway", "ws://127.0.0.1:18420/api/ws", "Gateway WS URL")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *gatewayURL); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, gatewayURL string) error {
	// Step 1: connect; the gateway announces the first chat session.
	client, err := wsclient.Dial(ctx, gatewayURL, "general")
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	first, err := waitSessionCreated(client)
	if err != nil {
		return err
	}
	fmt.Printf("CHECK session opened: %s (%s)\n", first.ID, first.Mode)

	// Step 2: the catalog lists four modes.
	id, err := client.ListModes()
	if err != nil {
		return fmt.Errorf("list_modes: %w", err)
	}
	var list []wsprotocol.ModeInfo
	if err := waitResponse(client, id, &list); err != nil {
		return err
	}
	if len(list) != 4 {
		return fmt.Errorf("expected 4 modes, got %d", len(list))
	}
	fmt.Printf("CHECK %d modes listed\n", len(list))

	// Step 3: every change opens a distinct session.
	seen := map[string]bool{first.ID: true}
	for _, m := range []string{"coding", "fast", "international", "general"} {
		id, err := client.SetMode(m)
		if err != nil {
			return fmt.Errorf("set_mode %s: %w", m, err)
		}
		var res wsprotocol.SetModeResult
		created, err := waitChange(client, id, &res)
		if err != nil {
			return err
		}
		if !res.Changed {
			return fmt.Errorf("set_mode %s: expected a change", m)
		}
		if seen[created.ID] {
			return fmt.Errorf("session %s reused after switching to %s", created.ID, m)
		}
		seen[created.ID] = true
		fmt.Printf("CHECK %s -> session %s\n", m, created.ID)
	}

	// Step 4: re-selecting the active mode is a no-op.
	id, err = client.SetMode("general")
	if err != nil {
		return fmt.Errorf("set_mode general: %w", err)
	}
	var res wsprotocol.SetModeResult
	if err := waitResponse(client, id, &res); err != nil {
		return err
	}
	if res.Changed {
		return fmt.Errorf("re-selecting the active mode changed the session")
	}
	fmt.Println("CHECK same mode keeps the session")

	// Step 5: blank input never reaches the model.
	id, err = client.SendMessage("   ")
	if err != nil {
		return fmt.Errorf("send_message: %w", err)
	}
	var sent wsprotocol.SendMessageResult
	if err := waitResponse(client, id, &sent); err != nil {
		return err
	}
	if sent.Status != "ignored" {
		return fmt.Errorf("blank message status = %q, want ignored", sent.Status)
	}
	fmt.Println("CHECK blank message ignored")

	fmt.Println("PASS")
	return nil
}

func waitSessionCreated(c *wsclient.Client) (events.SessionCreatedPayload, error) {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			return events.SessionCreatedPayload{}, fmt.Errorf("read: %w", err)
		}
		if f.Type != wsprotocol.FrameTypeEvent || events.EventType(f.Event) != events.EventSessionCreated {
			continue
		}
		var p events.SessionCreatedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return p, fmt.Errorf("decode session.created: %w", err)
		}
		return p, nil
	}
}

// waitChange reads both the response to id and the session.created event of the
// switch, in whichever order they arrive.
func waitChange(c *wsclient.Client, id string, out any) (events.SessionCreatedPayload, error) {
	var created *events.SessionCreatedPayload
	answered := false
	for !answered || created == nil {
		f, err := c.ReadFrame()
		if err != nil {
			return events.SessionCreatedPayload{}, fmt.Errorf("read: %w", err)
		}
		switch {
		case f.Type == wsprotocol.FrameTypeResponse && f.ID == id:
			if f.OK == nil || !*f.OK {
				return events.SessionCreatedPayload{}, fmt.Errorf("request %s failed: %s", id, f.Error)
			}
			if err := json.Unmarshal(f.Payload, out); err != nil {
				return events.SessionCreatedPayload{}, err
			}
			answered = true
		case f.Type == wsprotocol.FrameTypeEvent && events.EventType(f.Event) == events.EventSessionCreated:
			var p events.SessionCreatedPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				return p, fmt.Errorf("decode session.created: %w", err)
			}
			created = &p
		}
	}
	return *created, nil
}

func waitResponse(c *wsclient.Client, id string, out any) error {
	for {
		f, err := c.ReadFrame()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if f.Type != wsprotocol.FrameTypeResponse || f.ID != id {
			continue
		}
		if f.OK == nil || !*f.OK {
			return fmt.Errorf("request %s failed: %s", id, f.Error)
		}
		return json.Unmarshal(f.Payload, out)
	}
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/neorix/internal/actors"
	"github.com/dohr-michael/neorix/internal/config"
	"github.com/dohr-michael/neorix/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show Neorix gateway status",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the raw heartbeat as JSON"},
		},
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	status, hb, err := heartbeat.Check(config.HeartbeatPath(), 4*heartbeat.DefaultInterval)
	if err != nil {
		return fmt.Errorf("check heartbeat: %w", err)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"status": status, "heartbeat": hb})
	}

	switch status {
	case heartbeat.StatusAlive:
		fmt.Printf("Gateway: ALIVE (PID %d, addr %s, uptime %s, %d conversations)\n",
			hb.PID, hb.Addr, hb.Uptime, hb.Conversations)
		printCapacity(ctx, hb.Addr)
	case heartbeat.StatusStale:
		fmt.Printf("Gateway: STALE (PID %d, last heartbeat %s ago)\n",
			hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
	case heartbeat.StatusDead:
		fmt.Println("Gateway: NOT RUNNING")
	}
	return nil
}

// printCapacity shows provider slot usage from /api/health. It prints nothing when the
// gateway does not answer or has no bounded provider.
func printCapacity(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/api/health", nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	var body struct {
		Capacity map[string]actors.Stats `json:"capacity"`
	}
	if json.NewDecoder(resp.Body).Decode(&body) != nil {
		return
	}

	names := make([]string, 0, len(body.Capacity))
	for name := range body.Capacity {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		s := body.Capacity[name]
		fmt.Printf("  %s: %d/%d slots busy\n", name, s.Busy, s.Slots)
	}
}

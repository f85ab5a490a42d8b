package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minewarden/minewarden/pkg/client"
)

// clientCommand runs one CLI action against a running daemon.
type clientCommand struct {
	flags APIFlags
}

func (c clientCommand) newClient() (*client.Client, context.Context, context.CancelFunc) {
	cl := client.New(client.Config{BaseURL: c.flags.URL, Timeout: c.flags.Timeout})
	ctx, cancel := context.WithTimeout(context.Background(), c.flags.Timeout)
	return cl, ctx, cancel
}

func (c clientCommand) Start() error {
	cl, ctx, cancel := c.newClient()
	defer cancel()
	if err := cl.Start(ctx); err != nil {
		return err
	}
	fmt.Println("server started")
	return nil
}

func (c clientCommand) Stop(wait time.Duration) error {
	cl, ctx, cancel := c.newClient()
	defer cancel()
	if err := cl.Stop(ctx, wait); err != nil {
		return err
	}
	fmt.Println("server stopped")
	return nil
}

func (c clientCommand) Restart() error {
	cl, ctx, cancel := c.newClient()
	defer cancel()
	if err := cl.Restart(ctx); err != nil {
		return err
	}
	fmt.Println("server restarted")
	return nil
}

func (c clientCommand) Reset() error {
	cl, ctx, cancel := c.newClient()
	defer cancel()
	if err := cl.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("restart budget cleared")
	return nil
}

func (c clientCommand) Status() error {
	cl, ctx, cancel := c.newClient()
	defer cancel()
	snap, err := cl.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("server:   %s\n", snap.Server)
	fmt.Printf("state:    %s\n", snap.State)
	if snap.Running {
		fmt.Printf("pid:      %d\n", snap.PID)
		fmt.Printf("uptime:   %s\n", (time.Duration(snap.UptimeSeconds) * time.Second).String())
	}
	fmt.Printf("health:   %d (%s)", snap.Health.Score, snap.Health.State)
	if len(snap.Health.Reasons) > 0 {
		fmt.Printf(" [%s]", strings.Join(snap.Health.Reasons, ", "))
	}
	fmt.Println()
	if s := snap.LastSample; s != nil {
		fmt.Printf("cpu:      %.1f%%\n", s.CPUPercent)
		fmt.Printf("memory:   %.0f MB\n", s.MemoryMB)
		if s.PortProbed {
			fmt.Printf("port:     open=%v\n", s.PortOpen)
		}
	}
	fmt.Printf("restarts: %d in window\n", snap.RestartsInWindow)
	if snap.CooldownUntil != nil {
		fmt.Printf("cooldown: until %s\n", snap.CooldownUntil.Format(time.RFC3339))
	}
	if snap.LastError != "" {
		fmt.Printf("error:    %s\n", snap.LastError)
	}
	return nil
}

func (c clientCommand) Send(args []string) error {
	cl, ctx, cancel := c.newClient()
	defer cancel()
	command := strings.Join(args, " ")
	if err := cl.SendCommand(ctx, command); err != nil {
		return err
	}
	fmt.Printf("sent: %s\n", command)
	return nil
}

func (c clientCommand) Backup(reason string) error {
	cl, ctx, cancel := c.newClient()
	defer cancel()
	snap, err := cl.Backup(ctx, reason)
	if err != nil {
		return err
	}
	fmt.Printf("snapshot %s (%d bytes)\n", snap.Name, snap.SizeBytes)
	return nil
}

func (c clientCommand) Backups() error {
	cl, ctx, cancel := c.newClient()
	defer cancel()
	snaps, err := cl.Backups(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("no snapshots")
		return nil
	}
	for _, s := range snaps {
		fmt.Printf("%s  %10d bytes  %s\n", s.CreatedAt.Format(time.RFC3339), s.SizeBytes, s.Name)
	}
	return nil
}

func (c clientCommand) History(limit int) error {
	cl, ctx, cancel := c.newClient()
	defer cancel()
	events, err := cl.History(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no events")
		return nil
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-16s", e.OccurredAt.Format(time.RFC3339), e.Type)
		if e.Reason != "" {
			line += "  reason=" + e.Reason
		}
		if e.Outcome != "" {
			line += "  outcome=" + e.Outcome
		}
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Println(line)
	}
	return nil
}

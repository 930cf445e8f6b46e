package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dotsetgreg/due/pkg/autosave"
	"github.com/dotsetgreg/due/pkg/bus"
	"github.com/dotsetgreg/due/pkg/channels"
	"github.com/dotsetgreg/due/pkg/config"
	"github.com/dotsetgreg/due/pkg/logger"
)

// runGateway serves the agent over the enabled channels until ctx ends.
func runGateway(ctx context.Context, out io.Writer, cfg *config.Config) error {
	rt, err := openRuntime(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	var saver *autosave.Scheduler
	if cfg.Autosave.Enabled {
		saver, err = autosave.NewScheduler(cfg.Autosave.Schedule, func(ctx context.Context) error {
			_, err := rt.save(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	onLearn := func() {
		if saver != nil {
			saver.MarkDirty()
		}
	}
	loop := rt.newLoop(msgBus, onLearn)

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}
	enabled := channelManager.GetEnabledChannels()
	if len(enabled) == 0 {
		return fmt.Errorf("no channels enabled; set channels.discord.enabled and a token")
	}

	fmt.Fprintf(out, "\n📦 Agent Status:\n")
	fmt.Fprintf(out, "  • Agent: %s (%s)\n", rt.agent.ID(), rt.agent.Kind())
	fmt.Fprintf(out, "  • Episodes: %d learned\n", len(rt.agent.LearnedEpisodes()))
	fmt.Fprintf(out, "  • Actions: %s\n", strings.Join(rt.agent.Actions().Names(), ", "))
	logger.InfoCF("gateway", "Agent initialized", map[string]interface{}{
		"agent_id": rt.agent.ID(),
		"episodes": len(rt.agent.LearnedEpisodes()),
		"channels": enabled,
	})

	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	fmt.Fprintf(out, "✓ Channels enabled: %s\n", strings.Join(enabled, ", "))

	saverDone := make(chan struct{})
	if saver != nil {
		go func() {
			defer close(saverDone)
			if err := saver.Run(ctx); err != nil {
				logger.ErrorCF("autosave", "Autosave scheduler exited", map[string]interface{}{"error": err})
			}
		}()
		fmt.Fprintf(out, "✓ Autosave scheduled (%s)\n", cfg.Autosave.Schedule)
	} else {
		close(saverDone)
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	// Run returns once ctx ends, after closing live conversations.
	runErr := loop.Run(ctx)

	fmt.Fprintln(out, "\nShutting down...")
	<-saverDone
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := channelManager.StopAll(stopCtx); err != nil {
		logger.WarnCF("gateway", "Failed to stop channels", map[string]interface{}{"error": err})
	}
	// Conversations closed during shutdown may land after the scheduler's
	// final flush.
	switch {
	case saver != nil:
		if err := saver.Flush(stopCtx); err != nil {
			return err
		}
	case loop.Learned() > 0:
		if _, err := rt.save(stopCtx); err != nil {
			return err
		}
	}
	fmt.Fprintln(out, "✓ Gateway stopped")
	return runErr
}

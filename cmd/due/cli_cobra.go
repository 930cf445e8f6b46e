package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dotsetgreg/due/pkg/bus"
	"github.com/dotsetgreg/due/pkg/gateway"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	debug      bool
}

func executeCLI() error {
	root := buildRootCommand(true)
	return root.Execute()
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var (
		showVersion bool
		flags       globalFlags
	)

	root := &cobra.Command{
		Use:   appName,
		Short: "Episodic conversation agent that answers from remembered conversations",
		Long: strings.TrimSpace(`due learns from recorded conversations (episodes) and replies by
retrieving what was said after the most similar moment it remembers.

Use CLI commands to train an agent from a corpus, chat with it locally, ask
one-shot questions, run the Discord gateway and inspect saved snapshots.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file (default ~/.due/config.json)")
	root.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newLearnCommand(&flags))
	root.AddCommand(newChatCommand(&flags))
	root.AddCommand(newAskCommand(&flags))
	root.AddCommand(newGatewayCommand(&flags))
	root.AddCommand(newInspectCommand(&flags))
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		root.AddCommand(newDocsCommand())
	}

	return root
}

func newLearnCommand(flags *globalFlags) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "learn [corpus files...]",
		Short: "Train the agent on corpus files and save the snapshot",
		Long: strings.TrimSpace(`Learn episodes from YAML corpus files (plus the configured corpus) and
save the agent under the configured snapshot name. Episodes already learned
are skipped, so re-running on the same files is harmless.`),
		Example: strings.Join([]string{
			"  due learn ./corpus/*.yaml",
			"  due learn --fresh ./corpus/support.yaml",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath, flags.debug)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, cfg, fresh)
			if err != nil {
				return err
			}
			defer rt.Close()

			before := len(rt.agent.LearnedEpisodes())
			if rt.restored || len(args) > 0 {
				eps, err := loadCorpus(cfg, args)
				if err != nil {
					return err
				}
				if err := rt.agent.LearnEpisodes(ctx, eps); err != nil {
					return err
				}
			}
			entry, err := rt.save(ctx)
			if err != nil {
				return err
			}
			after := len(rt.agent.LearnedEpisodes())
			fmt.Fprintf(cmd.OutOrStdout(), "Learned %d new episodes (%d total), saved %s revision %d\n",
				after-before, after, entry.Name, entry.Revision)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Ignore the saved snapshot and start a new agent")
	return cmd
}

func newChatCommand(flags *globalFlags) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		Long:  "Run an interactive conversation. /bye ends the conversation, /new starts another, exit quits.",
		Example: strings.Join([]string{
			"  due chat",
			"  due chat --session cli:work",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath, flags.debug)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			msgBus := bus.NewMessageBus()
			defer msgBus.Close()
			loop := rt.newLoop(msgBus, nil)

			fmt.Fprintf(cmd.OutOrStdout(), "%s Interactive mode (Ctrl+C to exit)\n\n", appName)
			interactiveMode(ctx, loop, msgBus, session)
			return finishLoop(ctx, rt, loop)
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "cli:default", "Session key for the conversation")
	return cmd
}

func newAskCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ask <message>",
		Short:   "Send one message and print the reply",
		Example: "  due ask \"what time is it?\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath, flags.debug)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			msgBus := bus.NewMessageBus()
			defer msgBus.Close()
			loop := rt.newLoop(msgBus, nil)

			reply, err := loop.ProcessDirect(ctx, strings.Join(args, " "), "cli:ask")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", reply)
			return finishLoop(ctx, rt, loop)
		},
	}
	return cmd
}

// finishLoop closes live conversations and saves when anything was learned.
func finishLoop(ctx context.Context, rt *agentRuntime, loop *gateway.Loop) error {
	loop.CloseAll(ctx)
	if loop.Learned() == 0 {
		return nil
	}
	_, err := rt.save(ctx)
	return err
}

func newGatewayCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the agent behind the configured chat channels",
		Long:    "Start channel adapters, the conversation loop and the autosave scheduler until interrupted.",
		Example: "  due gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath, flags.debug)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runGateway(ctx, cmd.OutOrStdout(), cfg)
		},
	}
	return cmd
}

func newInspectCommand(flags *globalFlags) *cobra.Command {
	var episodes bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show saved snapshots and what the agent knows",
		Example: strings.Join([]string{
			"  due inspect",
			"  due inspect --episodes",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath, flags.debug)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			return inspect(ctx, cmd.OutOrStdout(), rt, episodes)
		},
	}
	cmd.Flags().BoolVarP(&episodes, "episodes", "e", false, "List learned episodes")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  due version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/dotsetgreg/due/pkg/persistence"
)

func inspect(ctx context.Context, out io.Writer, rt *agentRuntime, listEpisodes bool) error {
	a := rt.agent
	cfg := a.Config()
	source := "trained from corpus (not saved yet)"
	if rt.restored {
		source = "snapshot " + rt.cfg.Storage.Snapshot
	}

	fmt.Fprintln(out, headingStyle.Render("Agent "+a.ID()))
	fmt.Fprintf(out, "  Kind: %s\n", a.Kind())
	fmt.Fprintf(out, "  Source: %s\n", source)
	fmt.Fprintf(out, "  Vectorizer: %s\n", cfg.Vectorizer)
	fmt.Fprintf(out, "  Min confidence: %.2f (%s)\n", cfg.MinConfidence, cfg.OnLowConfidence)
	fmt.Fprintf(out, "  Actions: %s\n", valueOr(strings.Join(a.Actions().Names(), ", "), "none"))
	fmt.Fprintf(out, "  Episodes: %d learned\n", len(a.LearnedEpisodes()))

	entries, err := rt.store.List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\n"+headingStyle.Render(fmt.Sprintf("Snapshots (%s)", rt.cfg.Storage.Driver)))
	if len(entries) == 0 {
		fmt.Fprintln(out, "  none")
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "  %s\trev %d\t%d bytes\t%s\n", e.Name, e.Revision, e.Size, e.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if sq, ok := rt.store.(*persistence.SQLiteStore); ok {
		archived, err := sq.ArchivedEpisodes(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nArchived conversations: %d\n", len(archived))
	}

	if listEpisodes {
		fmt.Fprintln(out, "\n"+headingStyle.Render("Learned episodes"))
		writeEpisodes(out, a.LearnedEpisodes())
	}
	return nil
}

func writeEpisodes(out io.Writer, eps []*episode.Episode) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, ep := range eps {
		first := ""
		if evs := ep.Events(); len(evs) > 0 && evs[0].Kind == episode.KindUtterance {
			first = truncate(evs[0].Text, 40)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%d events\t%d pairs\t%s\n",
			ep.ID(), strings.Join(ep.Participants(), ","), ep.Len(), len(episode.ResponsePairs(ep)), first)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

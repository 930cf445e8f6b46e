// Package brain stores learned episodes and answers similarity queries over
// the utterances they contain.
//
// The searchable index is a pure function of the learned episodes and the
// vectorizer choice. Learning rebuilds it and publishes the new index with
// an atomic swap, so queries never lock and never see a partial state.
package brain

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/dotsetgreg/due/pkg/logger"
	"github.com/m-mizutani/goerr/v2"
)

type Config struct {
	Vectorizer string `json:"vectorizer" yaml:"vectorizer"`
}

// Candidate is a learned stimulus utterance and the event that answered it.
type Candidate struct {
	EpisodeID string
	Stimulus  episode.Event
	Response  episode.Event
	vec       Vector
}

// Match is a scored candidate.
type Match struct {
	Candidate
	Score float64
}

// LearnReport summarizes a Learn call.
type LearnReport struct {
	Added   int
	Skipped int
}

type Stats struct {
	Vectorizer string `json:"vectorizer"`
	Episodes   int    `json:"episodes"`
	Candidates int    `json:"candidates"`
	Vocabulary int    `json:"vocabulary,omitempty"`
}

type index struct {
	episodes   []*episode.Episode
	learned    map[string]struct{}
	candidates []Candidate
	vectorizer Vectorizer
}

type Brain struct {
	cfg     Config
	mu      sync.Mutex
	current atomic.Pointer[index]
}

func New(cfg Config) (*Brain, error) {
	if cfg.Vectorizer == "" {
		cfg.Vectorizer = DefaultVectorizer
	}
	idx, err := build(cfg.Vectorizer, nil)
	if err != nil {
		return nil, err
	}
	b := &Brain{cfg: cfg}
	b.current.Store(idx)
	return b, nil
}

func (b *Brain) Config() Config { return b.cfg }

// Learn adds closed episodes. An open episode fails the whole call with
// ErrUnlearnableEpisode and nothing is learned. Episodes whose id was
// already learned are skipped.
func (b *Brain) Learn(eps ...*episode.Episode) (LearnReport, error) {
	for _, ep := range eps {
		if ep == nil {
			return LearnReport{}, goerr.Wrap(ErrUnlearnableEpisode, "nil episode")
		}
		if !ep.IsClosed() {
			return LearnReport{}, goerr.Wrap(ErrUnlearnableEpisode, "episode is still open",
				goerr.V("episode_id", ep.ID()), goerr.V("events", ep.Len()))
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.current.Load()
	var report LearnReport
	merged := append([]*episode.Episode(nil), cur.episodes...)
	batch := make(map[string]struct{}, len(eps))
	for _, ep := range eps {
		_, known := cur.learned[ep.ID()]
		_, dup := batch[ep.ID()]
		if known || dup {
			report.Skipped++
			continue
		}
		batch[ep.ID()] = struct{}{}
		merged = append(merged, ep)
		report.Added++
	}
	if report.Added == 0 {
		return report, nil
	}

	next, err := build(b.cfg.Vectorizer, merged)
	if err != nil {
		return LearnReport{}, err
	}
	b.current.Store(next)

	logger.InfoCF("brain", "Learned episodes",
		map[string]interface{}{
			"added":      report.Added,
			"skipped":    report.Skipped,
			"episodes":   len(next.episodes),
			"candidates": len(next.candidates),
			"vectorizer": next.vectorizer.Name(),
		})
	return report, nil
}

// Knows reports whether an episode id was learned.
func (b *Brain) Knows(episodeID string) bool {
	_, ok := b.current.Load().learned[episodeID]
	return ok
}

// Episodes returns the learned episodes sorted by id.
func (b *Brain) Episodes() []*episode.Episode {
	return append([]*episode.Episode(nil), b.current.Load().episodes...)
}

func (b *Brain) Stats() Stats {
	idx := b.current.Load()
	st := Stats{
		Vectorizer: idx.vectorizer.Name(),
		Episodes:   len(idx.episodes),
		Candidates: len(idx.candidates),
	}
	if v, ok := idx.vectorizer.(interface{ VocabularySize() int }); ok {
		st.Vocabulary = v.VocabularySize()
	}
	return st
}

// Best returns the highest scoring candidate accepted by accept (nil
// accepts all). ok is false when no candidate qualifies.
func (b *Brain) Best(text string, accept func(Candidate) bool) (Match, bool) {
	ranked := b.Rank(text, 1, accept)
	if len(ranked) == 0 {
		return Match{}, false
	}
	return ranked[0], true
}

// Rank scores every accepted candidate against text and returns the top k
// (all when k <= 0). Equal scores order by episode id, then by stimulus
// position.
func (b *Brain) Rank(text string, k int, accept func(Candidate) bool) []Match {
	idx := b.current.Load()
	if len(idx.candidates) == 0 {
		return nil
	}
	query := idx.vectorizer.Vectorize(Tokenize(text))

	matches := make([]Match, 0, len(idx.candidates))
	for _, c := range idx.candidates {
		if accept != nil && !accept(c) {
			continue
		}
		matches = append(matches, Match{Candidate: c, Score: Cosine(query, c.vec)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].EpisodeID != matches[j].EpisodeID {
			return matches[i].EpisodeID < matches[j].EpisodeID
		}
		return matches[i].Stimulus.Seq < matches[j].Stimulus.Seq
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// build derives the index from episodes. Episodes are ordered by id and
// events by sequence before fitting, so the same inputs always produce the
// same index.
func build(vectorizer string, eps []*episode.Episode) (*index, error) {
	sorted := append([]*episode.Episode(nil), eps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	idx := &index{
		episodes: sorted,
		learned:  make(map[string]struct{}, len(sorted)),
	}
	var docs [][]string
	type pending struct {
		pair   episode.Pair
		tokens []string
	}
	var pairs []pending
	for _, ep := range sorted {
		idx.learned[ep.ID()] = struct{}{}
		for _, ev := range ep.Events() {
			if ev.Kind == episode.KindUtterance && ev.Text != "" {
				docs = append(docs, Tokenize(ev.Text))
			}
		}
		for _, p := range episode.ResponsePairs(ep) {
			pairs = append(pairs, pending{pair: p, tokens: Tokenize(p.Stimulus.Text)})
		}
	}

	v, err := NewVectorizer(vectorizer, docs)
	if err != nil {
		return nil, err
	}
	idx.vectorizer = v
	idx.candidates = make([]Candidate, 0, len(pairs))
	for _, p := range pairs {
		idx.candidates = append(idx.candidates, Candidate{
			EpisodeID: p.pair.Stimulus.EpisodeID,
			Stimulus:  p.pair.Stimulus,
			Response:  p.pair.Response,
			vec:       v.Vectorize(p.tokens),
		})
	}
	return idx, nil
}

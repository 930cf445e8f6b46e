package brain

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// closedEpisode builds a closed two-party episode from alternating lines,
// starting with "a".
func closedEpisode(t *testing.T, id string, lines ...string) *episode.Episode {
	t.Helper()
	ep, err := episode.NewWithID(id, t0, "a", "b")
	require.NoError(t, err)
	speakers := []string{"a", "b"}
	for i, line := range lines {
		_, err := ep.Append(episode.NewUtterance(speakers[i%2], line, t0.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	ep.Close()
	return ep
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"how", "are", "you", "?"}, Tokenize("  How   are\tyou?"))
	assert.Equal(t, []string{"don't", "stop", "!"}, Tokenize("Don't STOP!"))
	assert.Empty(t, Tokenize("   "))
}

func TestCosine(t *testing.T) {
	a := sparse(map[int]float64{1: 1, 3: 1})
	b := sparse(map[int]float64{1: 1, 3: 1})
	c := sparse(map[int]float64{2: 5})
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-12)
	assert.Equal(t, 0.0, Cosine(a, c))
	assert.Equal(t, 0.0, Cosine(a, Vector{}))
}

func TestNewVectorizer(t *testing.T) {
	for _, name := range VectorizerNames() {
		v, err := NewVectorizer(name, [][]string{{"hi"}})
		require.NoError(t, err, name)
		assert.Equal(t, name, v.Name())
	}
	_, err := NewVectorizer("word2vec", nil)
	assert.ErrorIs(t, err, ErrUnknownVectorizer)
	assert.False(t, ValidVectorizer("word2vec"))
}

func TestLearn_RejectsOpenEpisodesAtomically(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)

	done := closedEpisode(t, "ep-1", "Hi", "Hello")
	open, err := episode.New("a", "b")
	require.NoError(t, err)

	_, err = b.Learn(done, open)
	assert.ErrorIs(t, err, ErrUnlearnableEpisode)
	assert.Equal(t, 0, b.Stats().Episodes)
	assert.False(t, b.Knows("ep-1"))
}

func TestLearn_IsIdempotent(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	ep := closedEpisode(t, "ep-1", "Hi", "Hello", "How are you?", "Fine")

	rep, err := b.Learn(ep)
	require.NoError(t, err)
	assert.Equal(t, LearnReport{Added: 1}, rep)
	before := b.Rank("hi", 0, nil)

	rep, err = b.Learn(ep, ep)
	require.NoError(t, err)
	assert.Equal(t, LearnReport{Skipped: 2}, rep)
	assert.Equal(t, before, b.Rank("hi", 0, nil))
	assert.Equal(t, 1, b.Stats().Episodes)
}

func TestBest_ExactMatch(t *testing.T) {
	for _, name := range VectorizerNames() {
		t.Run(name, func(t *testing.T) {
			b, err := New(Config{Vectorizer: name})
			require.NoError(t, err)
			_, err = b.Learn(closedEpisode(t, "ep-1", "Hi", "Hi", "How are you?", "Good thanks"))
			require.NoError(t, err)

			m, ok := b.Best("How are you?", nil)
			require.True(t, ok)
			assert.Equal(t, "Good thanks", m.Response.Text)
			assert.InDelta(t, 1.0, m.Score, 1e-9)

			m, ok = b.Best("Hi", nil)
			require.True(t, ok)
			assert.Equal(t, "Hi", m.Response.Text)
			assert.Equal(t, "b", m.Response.Speaker)
		})
	}
}

func TestBest_IndexesBothDirections(t *testing.T) {
	for _, name := range VectorizerNames() {
		t.Run(name, func(t *testing.T) {
			b, err := New(Config{Vectorizer: name})
			require.NoError(t, err)
			_, err = b.Learn(closedEpisode(t, "ep-1", "Hi", "Hi", "How are you?", "Good thanks", "Time please", "It is noon"))
			require.NoError(t, err)
			assert.Equal(t, 5, b.Stats().Candidates)

			// "How are you?" is also the response of the b "Hi" candidate;
			// only the stimulus is matched.
			m, ok := b.Best("How are you?", nil)
			require.True(t, ok)
			assert.Equal(t, "Good thanks", m.Response.Text)
			assert.Equal(t, "b", m.Response.Speaker)
			assert.InDelta(t, 1.0, m.Score, 1e-9)

			m, ok = b.Best("Good thanks", nil)
			require.True(t, ok)
			assert.Equal(t, "Time please", m.Response.Text)
			assert.Equal(t, "a", m.Response.Speaker)

			ranked := b.Rank("Hi", 2, nil)
			require.Len(t, ranked, 2)
			assert.Equal(t, "b", ranked[0].Response.Speaker)
			assert.Equal(t, "Hi", ranked[0].Response.Text)
			assert.Equal(t, "How are you?", ranked[1].Response.Text)
			assert.Equal(t, ranked[0].Score, ranked[1].Score)
		})
	}
}

func TestRank_TieBreaksByEpisodeThenSequence(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	_, err = b.Learn(
		closedEpisode(t, "ep-b", "hello", "from b"),
		closedEpisode(t, "ep-a", "hello", "from a first", "hello", "from a second"),
	)
	require.NoError(t, err)

	ranked := b.Rank("hello", 3, nil)
	require.Len(t, ranked, 3)
	assert.Equal(t, "from a first", ranked[0].Response.Text)
	assert.Equal(t, "from a second", ranked[1].Response.Text)
	assert.Equal(t, "from b", ranked[2].Response.Text)
	assert.Equal(t, ranked[0].Score, ranked[2].Score)
}

func TestBest_AcceptFilter(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	_, err = b.Learn(closedEpisode(t, "ep-1", "hello", "skip me", "hello there", "keep me"))
	require.NoError(t, err)

	m, ok := b.Best("hello", func(c Candidate) bool { return c.Response.Text != "skip me" })
	require.True(t, ok)
	assert.Equal(t, "keep me", m.Response.Text)

	_, ok = b.Best("hello", func(Candidate) bool { return false })
	assert.False(t, ok)
}

func TestBest_EmptyBrain(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	_, ok := b.Best("anything", nil)
	assert.False(t, ok)
}

func TestRebuild_IsDeterministicAcrossLearnOrder(t *testing.T) {
	eps := []*episode.Episode{
		closedEpisode(t, "ep-1", "good morning", "morning!", "what's up", "not much"),
		closedEpisode(t, "ep-2", "good evening", "evening!", "what is new", "nothing"),
		closedEpisode(t, "ep-3", "morning", "hey", "up for lunch?", "sure"),
	}
	b1, _ := New(Config{})
	b2, _ := New(Config{})
	_, err := b1.Learn(eps...)
	require.NoError(t, err)
	for i := len(eps) - 1; i >= 0; i-- {
		_, err := b2.Learn(eps[i])
		require.NoError(t, err)
	}
	for _, q := range []string{"good morning", "what's new", "lunch", "zzz"} {
		assert.Equal(t, b1.Rank(q, 0, nil), b2.Rank(q, 0, nil), q)
	}
}

func TestConcurrentLearnAndQuery(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := b.Learn(closedEpisode(t, fmt.Sprintf("ep-%02d", i), "ping", fmt.Sprintf("pong %d", i)))
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Best("ping", nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, b.Stats().Episodes)
	m, ok := b.Best("ping", nil)
	require.True(t, ok)
	assert.Equal(t, "pong 0", m.Response.Text)
}

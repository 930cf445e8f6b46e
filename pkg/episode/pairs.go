package episode

import "strings"

// Pair is a stimulus utterance and the event that answered it.
type Pair struct {
	Stimulus Event
	Response Event
}

// ResponsePairs lists every response-position event in the episode: an
// utterance or action invocation that immediately follows a non-empty
// utterance by a different participant.
func ResponsePairs(ep *Episode) []Pair {
	events := ep.Events()
	var pairs []Pair
	for i := 0; i+1 < len(events); i++ {
		stim, resp := events[i], events[i+1]
		if stim.Kind != KindUtterance || strings.TrimSpace(stim.Text) == "" {
			continue
		}
		if resp.Speaker == stim.Speaker {
			continue
		}
		switch resp.Kind {
		case KindUtterance:
			if strings.TrimSpace(resp.Text) == "" {
				continue
			}
		case KindActionInvocation:
		default:
			continue
		}
		pairs = append(pairs, Pair{Stimulus: stim, Response: resp})
	}
	return pairs
}

package merge

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

var (
	propUserFields  = []string{"title", "summary", "mission.objective", "mission.why"}
	propAgentFields = []string{"team_guidance.complexity_notes", "conversation_transcript"}
	propValues      = []string{"", "a", "b", "c"}
)

// step is one generated write. Agent steps carry a full document, including
// possibly stale values for every user-owned field.
type step struct {
	agent bool
	field int
	value int
	stale []int
}

func decodeSteps(seeds []int) []step {
	steps := make([]step, 0, len(seeds))
	for _, s := range seeds {
		st := step{agent: s%2 == 1, field: (s / 2) % 8, value: (s / 16) % len(propValues)}
		for i := range propUserFields {
			st.stale = append(st.stale, (s/(64<<i))%len(propValues))
		}
		steps = append(steps, st)
	}
	return steps
}

func (s step) update() Update {
	doc := Document{}
	if !s.agent {
		doc.Set(propUserFields[s.field%len(propUserFields)], propValues[s.value])
		return Update{Source: domain.SourceUser, Document: doc}
	}
	for i, f := range propUserFields {
		doc.Set(f, propValues[s.stale[i]])
	}
	doc.Set(propAgentFields[s.field%len(propAgentFields)], propValues[s.value])
	return Update{Source: domain.SourceAgent, Document: doc}
}

func seedsGen() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, 1<<20))
}

func TestUserWritesSurviveAgentRebroadcastProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("latest user write to a user-owned field is never lost", prop.ForAll(
		func(seeds []int) (bool, error) {
			st := NewState(fixedClock()())
			last := map[string]string{}
			for i, s := range decodeSteps(seeds) {
				u := s.update()
				if !s.agent {
					last[propUserFields[s.field%len(propUserFields)]] = propValues[s.value]
				}
				var res Result
				st, res = Merge(IntentSchema, st, u, Options{Now: fixedClock()})
				if res.Err != nil {
					return false, res.Err
				}
				for path, want := range last {
					got, _ := st.Doc.Get(path)
					if got != want {
						return false, fmt.Errorf("step %d: %s = %v, want %q", i, path, got, want)
					}
				}
			}
			return true, nil
		},
		seedsGen(),
	))

	properties.TestingRun(t)
}

func TestVersionCountsAcceptedMergesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("version equals initial plus accepted merges", prop.ForAll(
		func(seeds []int, initial int) bool {
			st := NewState(fixedClock()())
			st.Version = initial
			accepted := 0
			for _, s := range decodeSteps(seeds) {
				var res Result
				st, res = Merge(IntentSchema, st, s.update(), Options{Now: fixedClock()})
				if res.Accepted {
					accepted++
				}
			}
			return st.Version == initial+accepted
		},
		seedsGen(),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

func TestAgentRedeliveryIsIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("delivering the same agent update twice changes nothing the second time", prop.ForAll(
		func(seeds []int, last int) bool {
			st := NewState(fixedClock()())
			for _, s := range decodeSteps(seeds) {
				st, _ = Merge(IntentSchema, st, s.update(), Options{Now: fixedClock()})
			}
			final := decodeSteps([]int{last | 1})[0].update()
			once, _ := Merge(IntentSchema, st, final, Options{Now: fixedClock()})
			twice, res := Merge(IntentSchema, once, final, Options{Now: fixedClock()})
			return !res.Accepted && twice.Version == once.Version && equal(twice.Doc, once.Doc)
		},
		seedsGen(),
		gen.IntRange(0, 1<<20),
	))

	properties.TestingRun(t)
}

func TestReplayedRunLogChangesNothingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	opts := Options{Now: fixedClock()}

	properties.Property("replaying every agent entry after a reconnect leaves the document as it was", prop.ForAll(
		func(seeds []int) bool {
			st := NewState(fixedClock()())
			var logged []Update
			var logID, sent int64
			for _, s := range decodeSteps(seeds) {
				logID++
				u := s.update()
				if !s.agent {
					st, _ = Merge(IntentSchema, st, u, opts)
					st = MarkSent(st, logID)
					sent = logID
					continue
				}
				u.LogID = logID
				if s.value%2 == 0 {
					u.InReplyTo = sent
				}
				logged = append(logged, u)
				st, _ = Merge(IntentSchema, st, u, opts)
			}

			replayed := st
			for _, u := range logged {
				var res Result
				replayed, res = Merge(IntentSchema, replayed, u, opts)
				if !res.Replayed {
					return false
				}
			}
			return replayed.Version == st.Version &&
				len(replayed.History) == len(st.History) &&
				equal(replayed.Doc, st.Doc)
		},
		seedsGen(),
	))

	properties.TestingRun(t)
}

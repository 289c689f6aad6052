package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sceneloop/internal/protocol"
)

func newSession() *Session {
	return New(protocol.SessionCreateParams{
		Role:           protocol.RoleGenerator,
		VisionModel:    "gemini-2.5-flash",
		CredentialRef:  "GEMINI_API_KEY",
		InitialCode:    "print('hi')",
		TargetImageRef: "target.png",
		RoundLimit:     5,
	})
}

func TestNewSessionHasUniqueHandle(t *testing.T) {
	a, b := newSession(), newSession()
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, protocol.RoleGenerator, a.Role())
}

func TestRoundCounterIncrements(t *testing.T) {
	s := newSession()
	assert.Equal(t, 0, s.Round())
	assert.Equal(t, 1, s.NextRound())
	assert.Equal(t, 2, s.NextRound())
	assert.Equal(t, 2, s.Round())
}

// After n generations with n-1 feedbacks in between, the history holds the
// entries in strict insertion order: artifact, feedback, artifact, feedback,
// ..., artifact.
func TestHistoryGrowsMonotonically(t *testing.T) {
	s := newSession()
	const n = 4

	for round := 1; round <= n; round++ {
		if round > 1 {
			s.Append(Entry{
				Kind:     EntryFeedback,
				Round:    round - 1,
				Feedback: &protocol.Feedback{Status: protocol.StatusContinue, Critique: "fix it", Round: round - 1},
			})
		}
		s.Append(Entry{
			Kind:     EntryArtifact,
			Round:    round,
			Artifact: &protocol.Artifact{Code: "v"},
		})
	}

	history := s.History()
	require.Len(t, history, 2*n-1)
	for i, e := range history {
		if i%2 == 0 {
			assert.Equal(t, EntryArtifact, e.Kind, "entry %d", i)
		} else {
			assert.Equal(t, EntryFeedback, e.Kind, "entry %d", i)
		}
	}
	// Rounds never decrease.
	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i].Round, history[i-1].Round)
	}
}

func TestHistoryReturnsDefensiveCopy(t *testing.T) {
	s := newSession()
	s.Append(Entry{Kind: EntryArtifact, Round: 1, Artifact: &protocol.Artifact{Code: "a"}})

	first := s.History()
	first[0].Kind = EntryEvidence

	assert.Equal(t, EntryArtifact, s.History()[0].Kind)
}

func TestStoreLifecycle(t *testing.T) {
	st := NewStore()
	s := newSession()
	st.Add(s)
	assert.Equal(t, 1, st.Len())

	got, err := st.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, st.Remove(s.ID()))
	assert.Zero(t, st.Len())

	_, err = st.Get(s.ID())
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.Remove(s.ID()), ErrNotFound)
}

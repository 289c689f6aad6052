package record

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sceneloop/internal/protocol"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "rounds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRound(run string, round int) Round {
	score := 0.42
	return Round{
		RunID: run,
		Round: round,
		Artifact: protocol.Artifact{
			Code:      "import bpy\nbpy.ops.mesh.primitive_cube_add()",
			Rationale: "added the missing cube",
		},
		RenderRef: "out/renders/1/frame.png",
		Feedback: protocol.Feedback{
			Status:   protocol.StatusContinue,
			Critique: "cube is too small",
			Score:    &score,
			Round:    round,
		},
		Evidence: []protocol.Evidence{
			{Capability: "compare_images", Summary: "pixel similarity 0.42", Score: &score},
		},
		At: time.Date(2026, 8, 27, 10, 30, 0, 123456789, time.UTC),
	}
}

func TestRoundSurvivesTheRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	want := sampleRound("run-1", 1)
	require.NoError(t, store.SaveRound(ctx, want))

	got, err := store.Rounds(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("round changed across the round trip (-want +got):\n%s", diff)
	}
}

func TestRoundsComeBackInOrder(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	// Saved out of order on purpose.
	for _, n := range []int{2, 0, 1} {
		require.NoError(t, store.SaveRound(ctx, sampleRound("run-1", n)))
	}

	got, err := store.Rounds(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, i, r.Round)
	}
}

func TestResavedRoundReplacesThePriorRow(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := sampleRound("run-1", 1)
	require.NoError(t, store.SaveRound(ctx, first))

	second := first
	second.Artifact.Code = "revised"
	require.NoError(t, store.SaveRound(ctx, second))

	got, err := store.Rounds(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "revised", got[0].Artifact.Code)
}

func TestUnknownRunIsNotFound(t *testing.T) {
	store := openStore(t)
	_, err := store.Rounds(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = store.Summary(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSummaryRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	score := 0.91
	want := RunSummary{
		RunID:      "run-1",
		Status:     "converged",
		RoundsUsed: 3,
		FinalScore: &score,
		StartedAt:  time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 27, 10, 5, 30, 0, time.UTC),
	}
	require.NoError(t, store.SaveSummary(ctx, want))

	got, err := store.Summary(ctx, "run-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("summary changed across the round trip (-want +got):\n%s", diff)
	}
}

func TestRunsListsNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	older := RunSummary{RunID: "old", Status: "exhausted", RoundsUsed: 10,
		StartedAt: time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 26, 9, 20, 0, 0, time.UTC)}
	newer := RunSummary{RunID: "new", Status: "converged", RoundsUsed: 2,
		StartedAt: time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 8, 27, 9, 5, 0, 0, time.UTC)}
	require.NoError(t, store.SaveSummary(ctx, older))
	require.NoError(t, store.SaveSummary(ctx, newer))

	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "old", runs[1].RunID)
}

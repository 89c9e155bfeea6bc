package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/magnitude-protocol/internal/scoring"
	"github.com/kingrea/magnitude-protocol/internal/session"
	"github.com/kingrea/magnitude-protocol/internal/stimuli"
	"github.com/kingrea/magnitude-protocol/internal/summary"
	"github.com/kingrea/magnitude-protocol/internal/trials"
)

func sampleResult(t *testing.T, runID string) session.Result {
	t.Helper()
	cmp := trials.ComparisonTrial{
		ID:            1,
		Base:          "0.65 vs 0.35",
		Block:         stimuli.BlockPreInstruction,
		Distance:      stimuli.DistanceLarge,
		Relation:      "F > D",
		Source:        trials.SourceCross,
		Left:          "0.35",
		Right:         "13/20",
		LeftValue:     0.35,
		RightValue:    0.65,
		LeftNotation:  stimuli.NotationDecimal,
		RightNotation: stimuli.NotationFraction,
		CorrectSide:   trials.SideRight,
	}
	est := trials.EstimationTrial{
		ID:       10000,
		Base:     "0.65 vs 0.35",
		Block:    stimuli.BlockPreInstruction,
		Distance: stimuli.DistanceLarge,
		Role:     trials.RoleLarger,
		Notation: stimuli.NotationFraction,
		Stimulus: "13/20",
		Value:    0.65,
	}
	hit, err := scoring.ScoreComparison(cmp, trials.SideRight, scoring.DefaultKeys(), scoring.Latency(420*time.Millisecond))
	require.NoError(t, err)
	hit.StageIndex = 3
	miss, err := scoring.ScoreComparison(cmp, "", scoring.DefaultKeys(), nil)
	require.NoError(t, err)
	miss.StageIndex = 5
	placed, err := scoring.ScoreEstimation(est, 0.7, scoring.Latency(time.Second))
	require.NoError(t, err)
	placed.StageIndex = 8

	outcomes := []scoring.TrialOutcome{hit, miss, placed}
	participant := summary.Participant{ID: "P-017", Consent: true}
	sum := summary.Summarize(outcomes)
	sum.Participant = participant
	started := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return session.Result{
		RunID:       runID,
		StartedAt:   started,
		CompletedAt: started.Add(4 * time.Minute),
		Participant: participant,
		Outcomes:    outcomes,
		Summary:     sum,
	}
}

func TestFileSinkWritesOncePerRun(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "json")
	sink := NewFileSink(dir)
	result := sampleResult(t, "run-a")

	require.NoError(t, sink.Save(context.Background(), result))
	loaded, err := LoadResult(sink.Path("run-a"))
	require.NoError(t, err)
	assert.Equal(t, result.RunID, loaded.RunID)
	assert.True(t, loaded.StartedAt.Equal(result.StartedAt))
	require.Len(t, loaded.Outcomes, 3)
	assert.Nil(t, loaded.Outcomes[1].RTMillis, "unanswered trial keeps a nil rt")
	assert.Equal(t, 0.05, *loaded.Outcomes[2].DirectionalError)
	assert.Equal(t, 0.5, *loaded.Summary.Comparison.Accuracy)

	assert.ErrorIs(t, sink.Save(context.Background(), result), ErrRunExists)
}

func TestFileSinkRejectsPathLikeRunIDs(t *testing.T) {
	t.Parallel()
	sink := NewFileSink(t.TempDir())
	err := sink.Save(context.Background(), sampleResult(t, "../escape"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run id")
}

func TestFileSinkHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := NewFileSink(dir)
	assert.ErrorIs(t, sink.Save(ctx, sampleResult(t, "run-c")), context.Canceled)
	_, err := os.Stat(sink.Path("run-c"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadResultReportsDecodeErrors(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadResult(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode result")
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "results", "protocol.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTripsRun(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	result := sampleResult(t, "run-a")

	require.NoError(t, s.Save(ctx, result))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, "run-a", run.RunID)
	assert.Equal(t, "P-017", run.ParticipantID)
	assert.True(t, run.Consent)
	assert.True(t, run.CompletedAt.Equal(result.CompletedAt))
	assert.Equal(t, 2, run.Summary.Comparison.Count)
	assert.Equal(t, 1, run.Summary.Estimation.Count)

	outcomes, err := s.Outcomes(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, result.Outcomes[0], outcomes[0])
	assert.Equal(t, result.Outcomes[1], outcomes[1])
	assert.Equal(t, result.Outcomes[2], outcomes[2])
}

func TestSQLiteStoreRejectsDuplicateRun(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleResult(t, "run-a")))
	assert.ErrorIs(t, s.Save(ctx, sampleResult(t, "run-a")), ErrRunExists)

	outcomes, err := s.Outcomes(ctx, "run-a")
	require.NoError(t, err)
	assert.Len(t, outcomes, 3, "failed insert must not add rows")
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "protocol.db")
	ctx := context.Background()
	first, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, sampleResult(t, "run-a")))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Save(ctx, sampleResult(t, "run-b")))
	runs, err := second.Runs(ctx)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSQLiteStoreHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, sampleResult(t, "run-a")), context.Canceled)
}

func TestUpSectionStopsAtDown(t *testing.T) {
	t.Parallel()
	got := upSection("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;\n")
	assert.Contains(t, got, "CREATE TABLE a")
	assert.NotContains(t, got, "DROP TABLE")
}

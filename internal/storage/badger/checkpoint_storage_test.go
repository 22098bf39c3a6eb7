package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/models"
)

func TestCheckpointMirrorRoundTrip(t *testing.T) {
	db := newTestDB(t)
	storage := NewCheckpointStorage(db, arbor.NewLogger())
	ctx := context.Background()

	cp := &models.Checkpoint{
		PortalName:                   "Haryana",
		RunID:                        7,
		SavedAtISO:                   "2026-02-20T10:00:00+05:30",
		ProcessedDepartmentNamesNorm: []string{"public works department"},
		AllTenderDetails: []models.Tender{
			{PortalName: "Haryana", TenderIDExtracted: "2025_PWD_1_1", TitleRef: "road work"},
		},
		Counters: models.RunCounters{ExtractedTotalTenders: 1},
	}
	require.NoError(t, storage.SaveCheckpoint(ctx, cp))

	// The mirror key is the normalized portal name, so any casing finds it.
	got, err := storage.GetCheckpoint(ctx, "  HARYANA ")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, uint64(7), got.RunID)
	assert.Equal(t, "2026-02-20T10:00:00+05:30", got.SavedAtISO)
	assert.Equal(t, []string{"public works department"}, got.ProcessedDepartmentNamesNorm)
	require.Len(t, got.AllTenderDetails, 1)
	assert.Equal(t, "2025_PWD_1_1", got.AllTenderDetails[0].TenderIDExtracted)
	assert.Equal(t, 1, got.Counters.ExtractedTotalTenders)
}

func TestCheckpointMirrorAbsent(t *testing.T) {
	db := newTestDB(t)
	storage := NewCheckpointStorage(db, arbor.NewLogger())

	got, err := storage.GetCheckpoint(context.Background(), "Nowhere")
	require.NoError(t, err, "absent checkpoint is not an error")
	assert.Nil(t, got)
}

func TestCheckpointMirrorUpsertReplaces(t *testing.T) {
	db := newTestDB(t)
	storage := NewCheckpointStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveCheckpoint(ctx, &models.Checkpoint{PortalName: "Haryana", RunID: 7}))
	require.NoError(t, storage.SaveCheckpoint(ctx, &models.Checkpoint{
		PortalName: "Haryana",
		RunID:      7,
		Counters:   models.RunCounters{ExtractedTotalTenders: 42},
	}))

	got, err := storage.GetCheckpoint(ctx, "Haryana")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 42, got.Counters.ExtractedTotalTenders, "newer snapshot wins")
}

func TestCheckpointMirrorDelete(t *testing.T) {
	db := newTestDB(t)
	storage := NewCheckpointStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveCheckpoint(ctx, &models.Checkpoint{PortalName: "Haryana", RunID: 7}))
	require.NoError(t, storage.DeleteCheckpoint(ctx, "Haryana"))

	got, err := storage.GetCheckpoint(ctx, "Haryana")
	require.NoError(t, err)
	assert.Nil(t, got, "checkpoint survived delete")

	// Deleting an absent checkpoint is a no-op, not an error.
	assert.NoError(t, storage.DeleteCheckpoint(ctx, "Haryana"))
}

func TestCheckpointMirrorRequiresPortalName(t *testing.T) {
	db := newTestDB(t)
	storage := NewCheckpointStorage(db, arbor.NewLogger())

	err := storage.SaveCheckpoint(context.Background(), &models.Checkpoint{RunID: 7})
	assert.Error(t, err, "checkpoint without a portal name must be rejected")
}

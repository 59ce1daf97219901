package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/arsenal/internal/game/weapon"
	"github.com/cory-johannsen/arsenal/internal/storage/postgres"
	"github.com/cory-johannsen/arsenal/internal/testutil"
)

func setupSnapshotRepo(t *testing.T) *postgres.SnapshotRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return postgres.NewSnapshotRepository(pc.RawPool)
}

func testSnapshot(loaded, reserve int) weapon.Snapshot {
	return weapon.Snapshot{
		WeaponID: "assault-rifle",
		Loaded:   loaded,
		Reserve:  reserve,
		ImpactGroups: []weapon.EffectGroup{
			{Handles: []weapon.EffectHandle{"imp-1", "imp-2"}},
		},
		MissGroups: []weapon.EffectGroup{
			{Handles: []weapon.EffectHandle{"miss-1"}},
		},
		Digest: []byte{0x01, 0x02, 0x03},
	}
}

func TestSnapshotRepository_SaveAndGet(t *testing.T) {
	repo := setupSnapshotRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, repo.Save(ctx, id, "holder-1", testSnapshot(7, 20)))

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, stored.InstanceID)
	assert.Equal(t, "holder-1", stored.Authority)
	assert.Equal(t, 7, stored.Snapshot.Loaded)
	assert.Equal(t, 20, stored.Snapshot.Reserve)
	assert.Equal(t, testSnapshot(7, 20).ImpactGroups, stored.Snapshot.ImpactGroups)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, stored.Snapshot.Digest)
}

func TestSnapshotRepository_SaveUpserts(t *testing.T) {
	repo := setupSnapshotRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, repo.Save(ctx, id, "holder-1", testSnapshot(10, 20)))
	require.NoError(t, repo.Save(ctx, id, "holder-2", testSnapshot(3, 15)))

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "holder-2", stored.Authority)
	assert.Equal(t, 3, stored.Snapshot.Loaded)
}

func TestSnapshotRepository_GetMissing(t *testing.T) {
	repo := setupSnapshotRepo(t)

	_, err := repo.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, postgres.ErrSnapshotNotFound)
}

func TestSnapshotRepository_ListByAuthority(t *testing.T) {
	repo := setupSnapshotRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, uuid.NewString(), "holder-1", testSnapshot(10, 20)))
	require.NoError(t, repo.Save(ctx, uuid.NewString(), "holder-1", testSnapshot(5, 5)))
	require.NoError(t, repo.Save(ctx, uuid.NewString(), "holder-2", testSnapshot(1, 0)))

	stored, err := repo.ListByAuthority(ctx, "holder-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	for _, s := range stored {
		assert.Equal(t, "holder-1", s.Authority)
	}
}

func TestSnapshotRepository_Delete(t *testing.T) {
	repo := setupSnapshotRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, repo.Save(ctx, id, "holder-1", testSnapshot(10, 20)))
	require.NoError(t, repo.Delete(ctx, id))

	_, err := repo.Get(ctx, id)
	assert.ErrorIs(t, err, postgres.ErrSnapshotNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, id), postgres.ErrSnapshotNotFound)
}

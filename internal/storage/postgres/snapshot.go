package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/arsenal/internal/game/weapon"
)

// ErrSnapshotNotFound is returned when a snapshot lookup yields no results.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// StoredSnapshot is a persisted authority hand-off record: the sealed weapon
// snapshot plus who it was issued to and when.
type StoredSnapshot struct {
	InstanceID string
	Authority  string
	Snapshot   weapon.Snapshot
	UpdatedAt  time.Time
}

// SnapshotRepository persists sealed transfer snapshots so a weapon instance
// can be rehydrated after a holder disconnects or the server restarts. The
// digest travels with the payload; integrity is re-verified on TransferIn,
// never here.
type SnapshotRepository struct {
	db *pgxpool.Pool
}

// NewSnapshotRepository creates a SnapshotRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSnapshotRepository(db *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save upserts the latest snapshot for a weapon instance.
//
// Precondition: instanceID must be non-empty.
// Postcondition: a subsequent Get returns the stored snapshot.
func (r *SnapshotRepository) Save(ctx context.Context, instanceID, authority string, snap weapon.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO weapon_snapshots (instance_id, weapon_id, authority, loaded, reserve, payload, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (instance_id) DO UPDATE
		 SET weapon_id = EXCLUDED.weapon_id,
		     authority = EXCLUDED.authority,
		     loaded = EXCLUDED.loaded,
		     reserve = EXCLUDED.reserve,
		     payload = EXCLUDED.payload,
		     updated_at = now()`,
		instanceID, snap.WeaponID, authority, snap.Loaded, snap.Reserve, payload,
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot: %w", err)
	}
	return nil
}

// Get retrieves the stored snapshot for a weapon instance.
//
// Postcondition: Returns the StoredSnapshot or ErrSnapshotNotFound.
func (r *SnapshotRepository) Get(ctx context.Context, instanceID string) (StoredSnapshot, error) {
	var (
		stored  StoredSnapshot
		payload []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT instance_id, authority, payload, updated_at
		 FROM weapon_snapshots WHERE instance_id = $1`,
		instanceID,
	).Scan(&stored.InstanceID, &stored.Authority, &payload, &stored.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoredSnapshot{}, ErrSnapshotNotFound
		}
		return StoredSnapshot{}, fmt.Errorf("querying snapshot: %w", err)
	}

	if err := json.Unmarshal(payload, &stored.Snapshot); err != nil {
		return StoredSnapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return stored, nil
}

// ListByAuthority retrieves every stored snapshot last issued to authority.
func (r *SnapshotRepository) ListByAuthority(ctx context.Context, authority string) ([]StoredSnapshot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT instance_id, authority, payload, updated_at
		 FROM weapon_snapshots WHERE authority = $1
		 ORDER BY updated_at DESC`,
		authority,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []StoredSnapshot
	for rows.Next() {
		var (
			stored  StoredSnapshot
			payload []byte
		)
		if err := rows.Scan(&stored.InstanceID, &stored.Authority, &payload, &stored.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal(payload, &stored.Snapshot); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
		out = append(out, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}
	return out, nil
}

// Delete removes the stored snapshot for a weapon instance.
//
// Postcondition: Returns ErrSnapshotNotFound when nothing was stored.
func (r *SnapshotRepository) Delete(ctx context.Context, instanceID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM weapon_snapshots WHERE instance_id = $1`,
		instanceID,
	)
	if err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSnapshotNotFound
	}
	return nil
}

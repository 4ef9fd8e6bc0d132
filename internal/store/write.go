package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/agenda/internal/ir"
)

// SaveSnapshot writes a snapshot and all of its rows in one transaction.
//
// The digest is recomputed from the snapshot content; a snapshot whose
// Digest field is set but does not match is rejected. Saving an ID that is
// already stored fails: snapshots are write-once.
func (s *Store) SaveSnapshot(ctx context.Context, snap ir.AgendaSnapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("save snapshot: empty snapshot ID")
	}

	digest, err := ir.SnapshotDigest(&snap)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	if snap.Digest != "" && snap.Digest != digest {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, ErrDigestMismatch)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot %s: begin: %w", snap.ID, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := insertSnapshot(ctx, tx, snap, digest); err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot %s: commit: %w", snap.ID, err)
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap ir.AgendaSnapshot, digest string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, version, clock, resolver, digest, engine_version)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.Version, snap.Clock, snap.Resolver, digest, ir.EngineVersion); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	for i, name := range snap.Focus {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_focus (snapshot_id, position, group_name)
			VALUES (?, ?, ?)
		`, snap.ID, i, name); err != nil {
			return fmt.Errorf("insert focus %d: %w", i, err)
		}
	}

	for _, g := range snap.Groups {
		if err := insertGroup(ctx, tx, snap.ID, g); err != nil {
			return err
		}
	}

	for i, a := range snap.Actions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_actions (snapshot_id, position, type, group_name)
			VALUES (?, ?, ?, ?)
		`, snap.ID, i, a.Type, a.Group); err != nil {
			return fmt.Errorf("insert action %d: %w", i, err)
		}
	}

	return nil
}

func insertGroup(ctx context.Context, tx *sql.Tx, snapshotID string, g ir.GroupRecord) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_groups
		(snapshot_id, name, active, auto_deactivate, activated_for_recency, cleared_for_recency)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		snapshotID,
		g.Name,
		g.Active,
		g.AutoDeactivate,
		g.ActivatedForRecency,
		g.ClearedForRecency,
	); err != nil {
		return fmt.Errorf("insert group %s: %w", g.Name, err)
	}

	for i, a := range g.Activations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_activations
			(snapshot_id, group_name, position, id, rule, salience, sequence, recency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, snapshotID, g.Name, i, a.ID, a.Rule, a.Salience, a.Sequence, a.Recency); err != nil {
			return fmt.Errorf("insert activation %s: %w", a.ID, err)
		}
	}

	for _, pa := range g.ProcessAssociations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_associations (snapshot_id, group_name, process_id, node_instance_id)
			VALUES (?, ?, ?, ?)
		`, snapshotID, g.Name, pa.ProcessID, pa.NodeInstanceID); err != nil {
			return fmt.Errorf("insert association %d: %w", pa.ProcessID, err)
		}
	}

	return nil
}

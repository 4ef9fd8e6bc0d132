package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/agenda/internal/ir"
)

var (
	// ErrNotFound is returned when no snapshot matches the request.
	ErrNotFound = errors.New("snapshot not found")

	// ErrDigestMismatch is returned when stored content no longer matches
	// the digest recorded alongside it.
	ErrDigestMismatch = errors.New("snapshot digest mismatch")
)

// SnapshotInfo summarizes a stored snapshot without loading its rows.
type SnapshotInfo struct {
	Seq           int64
	ID            string
	Clock         int64
	Resolver      string
	Digest        string
	EngineVersion string
}

// LoadSnapshot reads the snapshot with the given ID.
//
// Child lists come back in their saved order and are never nil. The digest
// is recomputed and compared with the stored one before returning.
func (s *Store) LoadSnapshot(ctx context.Context, id string) (ir.AgendaSnapshot, error) {
	var snap ir.AgendaSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, clock, resolver, digest
		FROM snapshots
		WHERE id = ?
	`, id).Scan(&snap.ID, &snap.Version, &snap.Clock, &snap.Resolver, &snap.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.AgendaSnapshot{}, fmt.Errorf("load snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.AgendaSnapshot{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}

	if snap.Focus, err = s.readFocus(ctx, id); err != nil {
		return ir.AgendaSnapshot{}, err
	}
	if snap.Groups, err = s.readGroups(ctx, id); err != nil {
		return ir.AgendaSnapshot{}, err
	}
	if snap.Actions, err = s.readActions(ctx, id); err != nil {
		return ir.AgendaSnapshot{}, err
	}

	digest, err := ir.SnapshotDigest(&snap)
	if err != nil {
		return ir.AgendaSnapshot{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	if digest != snap.Digest {
		return ir.AgendaSnapshot{}, fmt.Errorf("load snapshot %s: %w", id, ErrDigestMismatch)
	}

	return snap, nil
}

// LatestSnapshot reads the most recently saved snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (ir.AgendaSnapshot, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM snapshots ORDER BY seq DESC LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.AgendaSnapshot{}, fmt.Errorf("latest snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return ir.AgendaSnapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return s.LoadSnapshot(ctx, id)
}

// ListSnapshots returns every stored snapshot in save order.
//
// Returns an empty slice (not nil) if the store holds no snapshots.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, clock, resolver, digest, engine_version
		FROM snapshots
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	infos := []SnapshotInfo{}
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.Seq, &info.ID, &info.Clock, &info.Resolver, &info.Digest, &info.EngineVersion); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return infos, nil
}

func (s *Store) readFocus(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_name FROM snapshot_focus
		WHERE snapshot_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query focus: %w", err)
	}
	defer rows.Close()

	focus := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan focus: %w", err)
		}
		focus = append(focus, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate focus: %w", err)
	}
	return focus, nil
}

// readGroups loads group rows ordered by name, matching the order Capture
// writes them in.
func (s *Store) readGroups(ctx context.Context, id string) ([]ir.GroupRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, active, auto_deactivate, activated_for_recency, cleared_for_recency
		FROM snapshot_groups
		WHERE snapshot_id = ?
		ORDER BY name COLLATE BINARY ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}

	groups := []ir.GroupRecord{}
	for rows.Next() {
		var g ir.GroupRecord
		if err := rows.Scan(&g.Name, &g.Active, &g.AutoDeactivate, &g.ActivatedForRecency, &g.ClearedForRecency); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}

	// The single connection must be free before the child queries run.
	for i := range groups {
		if groups[i].Activations, err = s.readActivations(ctx, id, groups[i].Name); err != nil {
			return nil, err
		}
		if groups[i].ProcessAssociations, err = s.readAssociations(ctx, id, groups[i].Name); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (s *Store) readActivations(ctx context.Context, id, group string) ([]ir.ActivationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule, salience, sequence, recency
		FROM snapshot_activations
		WHERE snapshot_id = ? AND group_name = ?
		ORDER BY position ASC
	`, id, group)
	if err != nil {
		return nil, fmt.Errorf("query activations for %s: %w", group, err)
	}
	defer rows.Close()

	activations := []ir.ActivationRecord{}
	for rows.Next() {
		var a ir.ActivationRecord
		if err := rows.Scan(&a.ID, &a.Rule, &a.Salience, &a.Sequence, &a.Recency); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		activations = append(activations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activations: %w", err)
	}
	return activations, nil
}

func (s *Store) readAssociations(ctx context.Context, id, group string) ([]ir.ProcessAssociation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_id, node_instance_id
		FROM snapshot_associations
		WHERE snapshot_id = ? AND group_name = ?
		ORDER BY process_id ASC
	`, id, group)
	if err != nil {
		return nil, fmt.Errorf("query associations for %s: %w", group, err)
	}
	defer rows.Close()

	assocs := []ir.ProcessAssociation{}
	for rows.Next() {
		var pa ir.ProcessAssociation
		if err := rows.Scan(&pa.ProcessID, &pa.NodeInstanceID); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		assocs = append(assocs, pa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate associations: %w", err)
	}
	return assocs, nil
}

func (s *Store) readActions(ctx context.Context, id string) ([]ir.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, group_name
		FROM snapshot_actions
		WHERE snapshot_id = ?
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []ir.ActionRecord{}
	for rows.Next() {
		var a ir.ActionRecord
		if err := rows.Scan(&a.Type, &a.Group); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}

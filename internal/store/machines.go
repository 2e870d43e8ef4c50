package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tetherhq/tether/internal/model"
)

const machineColumns = `id, namespace, metadata, metadata_version,
	daemon_state, daemon_state_version, active, active_at, seq, created_at, updated_at`

// RegisterMachine returns the machine with the given id, creating it when
// absent. A machine's namespace is immutable: re-registering an existing id
// under a different namespace fails with NAMESPACE_MISMATCH rather than
// silently overwriting the record.
func (s *Store) RegisterMachine(ctx context.Context, id, namespace string, now time.Time) (model.Machine, bool, error) {
	var (
		out     model.Machine
		created bool
	)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanMachine(tx.QueryRowContext(ctx, `
			SELECT `+machineColumns+` FROM machines WHERE id = ?
		`, id))
		if err == nil {
			if existing.Namespace != namespace {
				return model.NewNamespaceMismatch(id, existing.Namespace, namespace)
			}
			out = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup machine: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO machines (id, namespace, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, id, namespace, nanos(now), nanos(now)); err != nil {
			return fmt.Errorf("insert machine: %w", err)
		}

		inserted, err := scanMachine(tx.QueryRowContext(ctx, `
			SELECT `+machineColumns+` FROM machines WHERE id = ?
		`, id))
		if err != nil {
			return fmt.Errorf("read inserted machine: %w", err)
		}
		out = inserted
		created = true
		return nil
	})
	if err != nil {
		return model.Machine{}, false, err
	}
	return out, created, nil
}

// GetMachine retrieves a machine by id.
func (s *Store) GetMachine(ctx context.Context, id string) (model.Machine, error) {
	m, err := scanMachine(s.db.QueryRowContext(ctx, `
		SELECT `+machineColumns+` FROM machines WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Machine{}, model.NewNotFound("machine", id)
	}
	if err != nil {
		return model.Machine{}, fmt.Errorf("get machine: %w", err)
	}
	return m, nil
}

// UpdateMachineMetadata performs the conditional metadata write. Same
// contract as UpdateSessionDoc.
func (s *Store) UpdateMachineMetadata(ctx context.Context, id string, doc model.Doc, expectedVersion int64, now time.Time) (int64, error) {
	return s.updateMachineDoc(ctx, id, "metadata", "metadata_version", doc, expectedVersion, now, false)
}

// UpdateMachineDaemonState performs the conditional daemon-state write.
// A successful write is itself a liveness heartbeat: the machine flips to
// active and active_at refreshes in the same atomic statement.
func (s *Store) UpdateMachineDaemonState(ctx context.Context, id string, doc model.Doc, expectedVersion int64, now time.Time) (int64, error) {
	return s.updateMachineDoc(ctx, id, "daemon_state", "daemon_state_version", doc, expectedVersion, now, true)
}

func (s *Store) updateMachineDoc(ctx context.Context, id, docCol, verCol string, doc model.Doc, expectedVersion int64, now time.Time, heartbeat bool) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if heartbeat {
		res, err = s.db.ExecContext(ctx, `
			UPDATE machines
			SET `+docCol+` = ?, `+verCol+` = `+verCol+` + 1, seq = seq + 1,
			    updated_at = ?, active = 1, active_at = ?
			WHERE id = ? AND `+verCol+` = ?
		`, docArg(doc), nanos(now), nanos(now), id, expectedVersion)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE machines
			SET `+docCol+` = ?, `+verCol+` = `+verCol+` + 1, seq = seq + 1, updated_at = ?
			WHERE id = ? AND `+verCol+` = ?
		`, docArg(doc), nanos(now), id, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("update machine %s: %w", docCol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update machine %s: rows affected: %w", docCol, err)
	}
	if n > 0 {
		return expectedVersion + 1, nil
	}

	var (
		current sql.NullString
		version int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT `+docCol+`, `+verCol+` FROM machines WHERE id = ?
	`, id).Scan(&current, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.NewNotFound("machine", id)
	}
	if err != nil {
		return 0, fmt.Errorf("reread machine %s: %w", docCol, err)
	}
	return 0, model.NewVersionConflict("machine", id, version, docFromNull(current))
}

// SetMachineActive records a presence transition for a machine.
func (s *Store) SetMachineActive(ctx context.Context, id string, active bool, now time.Time) error {
	var res sql.Result
	var err error
	if active {
		res, err = s.db.ExecContext(ctx, `
			UPDATE machines
			SET active = 1, active_at = ?, seq = seq + 1, updated_at = ?
			WHERE id = ?
		`, nanos(now), nanos(now), id)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE machines
			SET active = 0, seq = seq + 1, updated_at = ?
			WHERE id = ?
		`, nanos(now), id)
	}
	if err != nil {
		return fmt.Errorf("set machine active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set machine active: rows affected: %w", err)
	}
	if n == 0 {
		return model.NewNotFound("machine", id)
	}
	return nil
}

func scanMachine(row scanner) (model.Machine, error) {
	var (
		m                     model.Machine
		metadata, daemonState sql.NullString
		active                int
		activeAt              int64
		createdAt, updatedAt  int64
	)
	if err := row.Scan(
		&m.ID, &m.Namespace, &metadata, &m.MetadataVersion,
		&daemonState, &m.DaemonStateVersion, &active, &activeAt,
		&m.Seq, &createdAt, &updatedAt,
	); err != nil {
		return model.Machine{}, err
	}
	m.Metadata = docFromNull(metadata)
	m.DaemonState = docFromNull(daemonState)
	m.Active = active != 0
	m.ActiveAt = fromNanos(activeAt)
	m.CreatedAt = fromNanos(createdAt)
	m.UpdatedAt = fromNanos(updatedAt)
	return m, nil
}

package store

import (
	"database/sql"
	"fmt"

	"agent-hub/internal/model"
)

const machineColumns = `id, namespace, metadata, metadata_version, daemon_state,
daemon_state_version, active, active_at, seq, created_at, updated_at`

func scanMachine(row interface{ Scan(...any) error }) (model.Machine, error) {
	var m model.Machine
	var active int
	err := row.Scan(
		&m.ID, &m.Namespace, &m.Metadata, &m.MetadataVersion,
		&m.DaemonState, &m.DaemonStateVersion,
		&active, &m.ActiveAt,
		&m.Seq, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return model.Machine{}, err
	}
	m.Active = active != 0
	return m, nil
}

// CreateMachine inserts a machine under its daemon-chosen id. Ids are unique
// per namespace; a racing duplicate loses with ErrDuplicateMachine.
func (s *Store) CreateMachine(namespace, id, metadata string, daemonState *string, nowMillis int64) (model.Machine, error) {
	if err := checkNamespace(namespace); err != nil {
		return model.Machine{}, err
	}
	if id == "" {
		return model.Machine{}, fmt.Errorf("%w: missing machine id", ErrInvalidArgument)
	}

	metadataVersion := 0
	if metadata != "" {
		metadataVersion = 1
	}
	daemonStateVersion := 0
	if daemonState != nil {
		daemonStateVersion = 1
	}

	m := model.Machine{
		ID:                 id,
		Namespace:          namespace,
		Metadata:           metadata,
		MetadataVersion:    metadataVersion,
		DaemonState:        daemonState,
		DaemonStateVersion: daemonStateVersion,
		CreatedAt:          nowMillis,
		UpdatedAt:          nowMillis,
	}

	_, err := s.db.Exec(
		`INSERT INTO machines(id, namespace, metadata, metadata_version,
			daemon_state, daemon_state_version, active, active_at, seq,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		m.ID, m.Namespace, m.Metadata, m.MetadataVersion,
		nullable(m.DaemonState), m.DaemonStateVersion,
		m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.Machine{}, ErrDuplicateMachine
	}
	if err != nil {
		return model.Machine{}, fmt.Errorf("insert machine: %w", err)
	}
	return m, nil
}

func (s *Store) GetMachine(id, namespace string) (model.Machine, bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return model.Machine{}, false, err
	}
	row := s.db.QueryRow(
		`SELECT `+machineColumns+` FROM machines WHERE id = ? AND namespace = ?`,
		id, namespace,
	)
	m, err := scanMachine(row)
	if err == sql.ErrNoRows {
		return model.Machine{}, false, nil
	}
	if err != nil {
		return model.Machine{}, false, fmt.Errorf("select machine: %w", err)
	}
	return m, true, nil
}

func (s *Store) GetMachines(namespace string) ([]model.Machine, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		`SELECT `+machineColumns+` FROM machines WHERE namespace = ? ORDER BY updated_at DESC`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("select machines: %w", err)
	}
	defer rows.Close()

	result := make([]model.Machine, 0)
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) UpdateMachine(namespace string, m model.Machine) (bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		`UPDATE machines SET
			metadata = ?, metadata_version = ?,
			daemon_state = ?, daemon_state_version = ?,
			active = ?, active_at = ?, seq = ?, updated_at = ?
		 WHERE id = ? AND namespace = ?`,
		m.Metadata, m.MetadataVersion,
		nullable(m.DaemonState), m.DaemonStateVersion,
		boolToInt(m.Active), m.ActiveAt, m.Seq, m.UpdatedAt,
		m.ID, namespace,
	)
	if err != nil {
		return false, fmt.Errorf("update machine: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update machine: %w", err)
	}
	return n > 0, nil
}

func (s *Store) DeleteMachine(id, namespace string) (bool, error) {
	if err := checkNamespace(namespace); err != nil {
		return false, err
	}
	res, err := s.db.Exec(`DELETE FROM machines WHERE id = ? AND namespace = ?`, id, namespace)
	if err != nil {
		return false, fmt.Errorf("delete machine: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete machine: %w", err)
	}
	return n > 0, nil
}

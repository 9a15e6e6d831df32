package syncengine

import (
	"errors"

	"agent-hub/internal/model"
	"agent-hub/internal/store"
)

// GetOrCreateMachine mirrors GetOrCreateSession but is keyed by the
// daemon-chosen machine id, which is unique per namespace.
func (e *Engine) GetOrCreateMachine(id, metadata string, daemonState *string, namespace string) (model.Machine, bool, error) {
	key := machineKey(namespace, id)

	e.mu.RLock()
	if m, ok := e.machinesByKey[key]; ok {
		e.mu.RUnlock()
		return m, false, nil
	}
	e.mu.RUnlock()

	if m, ok, err := e.store.GetMachine(id, namespace); err != nil {
		return model.Machine{}, false, err
	} else if ok {
		e.cacheMachine(m)
		return m, false, nil
	}

	m, err := e.store.CreateMachine(namespace, id, metadata, daemonState, e.now())
	if errors.Is(err, store.ErrDuplicateMachine) {
		winner, ok, err := e.store.GetMachine(id, namespace)
		if err != nil {
			return model.Machine{}, false, err
		}
		if !ok {
			return model.Machine{}, false, store.ErrMachineNotFound
		}
		e.cacheMachine(winner)
		return winner, false, nil
	}
	if err != nil {
		return model.Machine{}, false, err
	}

	created := e.cacheMachineIfAbsent(m)
	if created {
		e.publish(map[string]any{
			"t":         "new-machine",
			"machineId": m.ID,
			"machine":   machineBody(m),
		}, NamespaceTopic(namespace))
	}
	return m, created, nil
}

func (e *Engine) cacheMachine(m model.Machine) {
	e.mu.Lock()
	e.machinesByKey[machineKey(m.Namespace, m.ID)] = m
	e.mu.Unlock()
}

func (e *Engine) cacheMachineIfAbsent(m model.Machine) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := machineKey(m.Namespace, m.ID)
	if _, ok := e.machinesByKey[key]; ok {
		return false
	}
	e.machinesByKey[key] = m
	return true
}

func (e *Engine) GetMachine(id, namespace string) (model.Machine, bool, error) {
	e.mu.RLock()
	m, ok := e.machinesByKey[machineKey(namespace, id)]
	e.mu.RUnlock()
	if ok {
		return m, true, nil
	}

	m, ok, err := e.store.GetMachine(id, namespace)
	if err != nil || !ok {
		return model.Machine{}, false, err
	}
	e.cacheMachine(m)
	return m, true, nil
}

func (e *Engine) GetMachines(namespace string) ([]model.Machine, error) {
	machines, err := e.store.GetMachines(namespace)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	for _, m := range machines {
		e.machinesByKey[machineKey(m.Namespace, m.ID)] = m
	}
	e.mu.Unlock()
	return machines, nil
}

// RefreshMachine force-reconciles one cache entry after an out-of-band
// store write.
func (e *Engine) RefreshMachine(id, namespace string) (model.Machine, bool, error) {
	m, ok, err := e.store.GetMachine(id, namespace)
	if err != nil {
		return model.Machine{}, false, err
	}
	key := machineKey(namespace, id)
	if !ok {
		e.mu.Lock()
		delete(e.machinesByKey, key)
		e.mu.Unlock()
		return model.Machine{}, false, nil
	}
	e.cacheMachine(m)
	return m, true, nil
}

func (e *Engine) UpdateMachineMetadata(id, namespace string, expectedVersion int, metadata string) (string, int, string, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	m, ok, err := e.GetMachine(id, namespace)
	if err != nil {
		return StatusNotFound, 0, "", err
	}
	if !ok {
		return StatusNotFound, 0, "", nil
	}
	if expectedVersion != m.MetadataVersion {
		return StatusVersionMismatch, m.MetadataVersion, m.Metadata, nil
	}

	m.Metadata = metadata
	m.MetadataVersion++
	m.UpdatedAt = e.now()
	if err := e.persistMachine(namespace, m); err != nil {
		return StatusNotFound, 0, "", err
	}

	e.publish(map[string]any{
		"t":         "update-machine",
		"machineId": m.ID,
		"metadata": map[string]any{
			"version": m.MetadataVersion,
			"value":   m.Metadata,
		},
	}, MachineTopic(namespace, m.ID), NamespaceTopic(namespace))
	return StatusSuccess, m.MetadataVersion, m.Metadata, nil
}

func (e *Engine) UpdateMachineDaemonState(id, namespace string, expectedVersion int, daemonState *string) (string, int, *string, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	m, ok, err := e.GetMachine(id, namespace)
	if err != nil {
		return StatusNotFound, 0, nil, err
	}
	if !ok {
		return StatusNotFound, 0, nil, nil
	}
	if expectedVersion != m.DaemonStateVersion {
		return StatusVersionMismatch, m.DaemonStateVersion, m.DaemonState, nil
	}

	m.DaemonState = daemonState
	m.DaemonStateVersion++
	m.UpdatedAt = e.now()
	if err := e.persistMachine(namespace, m); err != nil {
		return StatusNotFound, 0, nil, err
	}

	e.publish(map[string]any{
		"t":         "update-machine",
		"machineId": m.ID,
		"daemonState": map[string]any{
			"version": m.DaemonStateVersion,
			"value":   m.DaemonState,
		},
	}, MachineTopic(namespace, m.ID), NamespaceTopic(namespace))
	return StatusSuccess, m.DaemonStateVersion, m.DaemonState, nil
}

func (e *Engine) SetMachineActive(id, namespace string, active bool, activeAt int64) (bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	m, ok, err := e.GetMachine(id, namespace)
	if err != nil || !ok {
		return false, err
	}

	m.Active = active
	if active {
		m.ActiveAt = activeAt
	}
	m.UpdatedAt = e.now()
	if err := e.persistMachine(namespace, m); err != nil {
		return false, err
	}

	e.publish(map[string]any{
		"t":         "machine-activity",
		"machineId": m.ID,
		"active":    m.Active,
	}, MachineTopic(namespace, m.ID), NamespaceTopic(namespace))
	return true, nil
}

func (e *Engine) DeleteMachine(id, namespace string) (bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	deleted, err := e.store.DeleteMachine(id, namespace)
	if err != nil || !deleted {
		return false, err
	}
	e.mu.Lock()
	delete(e.machinesByKey, machineKey(namespace, id))
	e.mu.Unlock()

	e.publish(map[string]any{
		"t":         "delete-machine",
		"machineId": id,
	}, MachineTopic(namespace, id), NamespaceTopic(namespace))
	return true, nil
}

func (e *Engine) persistMachine(namespace string, m model.Machine) error {
	ok, err := e.store.UpdateMachine(namespace, m)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrMachineNotFound
	}
	e.cacheMachine(m)
	return nil
}

func machineBody(m model.Machine) map[string]any {
	return map[string]any{
		"id":                 m.ID,
		"namespace":          m.Namespace,
		"metadata":           m.Metadata,
		"metadataVersion":    m.MetadataVersion,
		"daemonState":        m.DaemonState,
		"daemonStateVersion": m.DaemonStateVersion,
		"active":             m.Active,
		"activeAt":           m.ActiveAt,
		"seq":                m.Seq,
		"createdAt":          m.CreatedAt,
		"updatedAt":          m.UpdatedAt,
	}
}

package execution

// ReadySteps returns the IDs of pending steps whose declared dependencies
// have all completed successfully, in definition order given by order.
func (e *Execution) ReadySteps(order []string, deps map[string][]string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ready []string
	for _, id := range order {
		st, ok := e.steps[id]
		if !ok || st.Status != StepPending {
			continue
		}
		allDone := true
		for _, dep := range deps[id] {
			if d, ok := e.steps[dep]; !ok || d.Status != StepCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, id)
		}
	}
	return ready
}

// BlockedSteps returns pending steps that can never run because a
// dependency (direct or transitive) terminated without completing.
func (e *Execution) BlockedSteps(order []string, deps map[string][]string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	dead := make(map[string]bool, len(e.steps))
	for _, id := range order {
		if st, ok := e.steps[id]; ok && st.Status.IsTerminal() && st.Status != StepCompleted {
			dead[id] = true
		}
	}
	// Definition order is not necessarily topological, so propagate
	// deadness to transitive dependents until stable.
	for changed := true; changed; {
		changed = false
		for _, id := range order {
			if dead[id] {
				continue
			}
			for _, dep := range deps[id] {
				if dead[dep] {
					dead[id] = true
					changed = true
					break
				}
			}
		}
	}

	var blocked []string
	for _, id := range order {
		if st, ok := e.steps[id]; ok && st.Status == StepPending && dead[id] {
			blocked = append(blocked, id)
		}
	}
	return blocked
}

// AllStepsTerminal reports whether every step reached a final state.
func (e *Execution) AllStepsTerminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, st := range e.steps {
		if !st.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyStepFailed reports whether at least one step failed.
func (e *Execution) AnyStepFailed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, st := range e.steps {
		if st.Status == StepFailed {
			return true
		}
	}
	return false
}

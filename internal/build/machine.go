package build

import (
	"fmt"
	"time"

	"github.com/dshills/sitekb-mcp/pkg/types"
)

// transitions lists the allowed status changes
var transitions = map[types.BuildStatus][]types.BuildStatus{
	types.StatusNotStarted: {types.StatusBuilding},
	types.StatusReady:      {types.StatusBuilding},
	types.StatusFailed:     {types.StatusBuilding},
	types.StatusBuilding:   {types.StatusReady, types.StatusFailed},
}

// Machine owns one tenant's build state for the lifetime of a build task.
// It is not safe for concurrent use.
type Machine struct {
	state types.TenantState
}

// NewMachine copies state into a new machine
func NewMachine(state *types.TenantState) *Machine {
	m := &Machine{state: *state}
	m.state.SeedURLs = append([]string(nil), state.SeedURLs...)
	if m.state.Status == "" {
		m.state.Status = types.StatusNotStarted
	}
	if state.Progress != nil {
		p := *state.Progress
		m.state.Progress = &p
	}
	return m
}

// State returns the current state. The pointer stays owned by the machine.
func (m *Machine) State() *types.TenantState {
	return &m.state
}

// Status returns the current status
func (m *Machine) Status() types.BuildStatus {
	return m.state.Status
}

// Transition moves to status to, rejecting any change not in the table
func (m *Machine) Transition(to types.BuildStatus) error {
	for _, allowed := range transitions[m.state.Status] {
		if allowed == to {
			m.state.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, m.state.Status, to)
}

// Begin enters building with fresh progress and no error
func (m *Machine) Begin(now time.Time) error {
	if err := m.Transition(types.StatusBuilding); err != nil {
		return err
	}
	m.state.ErrorMessage = ""
	m.state.Progress = &types.BuildProgress{
		Step:      types.StepCrawling,
		Message:   "Analyzing your website...",
		UpdatedAt: now,
	}
	return nil
}

// Succeed enters ready with count visible chunks and enables the assistant
func (m *Machine) Succeed(count int, now time.Time) error {
	if err := m.Transition(types.StatusReady); err != nil {
		return err
	}
	m.state.DocumentCount = count
	m.state.LastScrapedAt = &now
	m.state.AIEnabled = true
	m.state.ErrorMessage = ""
	m.state.Progress = nil
	return nil
}

// Fail enters failed with a user-facing message. Counts and the previous
// knowledge base are left as they were.
func (m *Machine) Fail(message string) error {
	if err := m.Transition(types.StatusFailed); err != nil {
		return err
	}
	m.state.ErrorMessage = message
	m.state.Progress = nil
	return nil
}

// UpdateProgress applies fn to the running build's progress. Counters never
// move backwards within a build.
func (m *Machine) UpdateProgress(now time.Time, fn func(p *types.BuildProgress)) bool {
	if m.state.Status != types.StatusBuilding || m.state.Progress == nil {
		return false
	}
	prev := *m.state.Progress
	next := prev
	fn(&next)

	next.URLsTotal = max(next.URLsTotal, prev.URLsTotal)
	next.URLsDone = max(next.URLsDone, prev.URLsDone)
	next.ChunksProcessed = max(next.ChunksProcessed, prev.ChunksProcessed)
	next.DocumentsAdded = max(next.DocumentsAdded, prev.DocumentsAdded)
	next.UpdatedAt = now

	*m.state.Progress = next
	return true
}

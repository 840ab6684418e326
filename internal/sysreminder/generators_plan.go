package sysreminder

import "context"

// PlanState is the slice of the plan-mode state machine the reminder
// generators need; satisfied by *planmode.State.
type PlanState interface {
	Active() bool
	ConsumeEntered() bool
	ConsumeExited() (string, bool)
}

// PlanModeGenerator covers the whole plan-mode reminder lifecycle: an entry
// notice on the first turn of plan mode, a standing reminder while it stays
// active, and an exit notice carrying the finished plan back for
// verification before execution starts.
type PlanModeGenerator struct {
	state PlanState
}

// NewPlanModeGenerator creates a generator bound to the shared plan state.
func NewPlanModeGenerator(state PlanState) *PlanModeGenerator {
	return &PlanModeGenerator{state: state}
}

func (g *PlanModeGenerator) Name() string { return "plan_mode" }
func (g *PlanModeGenerator) Tier() Tier   { return TierCore }

func (g *PlanModeGenerator) Generate(_ context.Context, _ Request) (string, error) {
	if g.state == nil {
		return "", nil
	}
	if plan, ok := g.state.ConsumeExited(); ok {
		return "Plan mode is over. The plan below was accepted; carry it out step by step and flag any deviation.\n\n" + plan, nil
	}
	if g.state.ConsumeEntered() {
		return "Plan mode is active. Investigate and produce a plan; do not make changes. Call exit_plan_mode with the finished plan when ready.", nil
	}
	if g.state.Active() {
		return "Still in plan mode: keep planning, make no changes yet.", nil
	}
	return "", nil
}

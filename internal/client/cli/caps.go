package cli

import (
	"context"

	"github.com/dmitrijs2005/campuskeeper/internal/client/capability"
)

// Can answers whether the signed-in user may perform action.
func (a *App) Can(ctx context.Context, action string) error {
	act, ok := capability.ParseAction(action)
	if !ok {
		printlnFn("Unknown action:", action)
		return nil
	}
	if a.gate.Permits(act) {
		printlnFn("yes")
	} else {
		printlnFn("no")
	}
	return nil
}

// Caps lists every action the signed-in user may perform.
func (a *App) Caps(ctx context.Context) error {
	set := a.gate.Current()
	if set.Len() == 0 {
		printlnFn("No actions available.")
		return nil
	}
	for _, act := range set.List() {
		printlnFn(" -", string(act))
	}
	return nil
}

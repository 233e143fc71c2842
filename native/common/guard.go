package common

import "errors"

// ErrModulePaused is returned for calls addressed to a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause state of ledger modules.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects calls to paused modules.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a static PauseView keyed by module name.
type Pauses map[string]bool

// IsPaused implements PauseView.
func (p Pauses) IsPaused(module string) bool {
	return p[module]
}

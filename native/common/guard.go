package common

import "errors"

// ErrModulePaused is returned by every mutating entry point of a paused
// module. Reads are never guarded.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a module's mutating operations are suspended.
// The zero value of an implementation should report nothing paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or an
// empty module name disables the check so engines stay usable before wiring.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

package common

// Pauses is a map-backed PauseView whose switches can be flipped at runtime.
// Callers serialise access the same way they serialise engine calls.
type Pauses struct {
	paused map[string]bool
}

// NewPauses returns a view with nothing paused.
func NewPauses() *Pauses {
	return &Pauses{paused: make(map[string]bool)}
}

// Set flips the switch for one module.
func (p *Pauses) Set(module string, paused bool) {
	if p == nil || module == "" {
		return
	}
	if p.paused == nil {
		p.paused = make(map[string]bool)
	}
	p.paused[module] = paused
}

// IsPaused implements the PauseView interface.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil || p.paused == nil {
		return false
	}
	return p.paused[module]
}

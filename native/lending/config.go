package lending

// Config captures the runtime configuration for the lending module.
type Config struct {
	// BaseRate, Slope1, Slope2 and Kink shape the borrow curve, expressed as
	// decimals.
	BaseRate float64 `toml:"BaseRate"`
	Slope1   float64 `toml:"Slope1"`
	Slope2   float64 `toml:"Slope2"`
	Kink     float64 `toml:"Kink"`
	// ReserveFactorBps is the share of paid interest routed to reserves.
	ReserveFactorBps uint64 `toml:"ReserveFactorBps"`
}

// DefaultConfig mirrors DefaultInterestModel and the default reserve factor.
func DefaultConfig() Config {
	return Config{
		BaseRate:         0.02,
		Slope1:           0.10,
		Slope2:           0.10,
		Kink:             1.0,
		ReserveFactorBps: DefaultReserveFactorBps,
	}
}

// Model builds the interest model the configuration describes.
func (c Config) Model() *InterestModel {
	return NewInterestModel(c.BaseRate, c.Slope1, c.Slope2, c.Kink)
}

// Validate enforces the same ranges the runtime setters do.
func (c Config) Validate() error {
	if c.ReserveFactorBps >= 10_000 {
		return ErrInvalidReserveFactor
	}
	return c.Model().Validate()
}

// ApplyConfig seeds the engine at bootstrap, before any flow runs. Runtime
// changes go through the authorised setters instead.
func (e *Engine) ApplyConfig(cfg Config) error {
	if e == nil {
		return errNilState
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.model = cfg.Model()
	e.reserveFactorBps = cfg.ReserveFactorBps
	return nil
}

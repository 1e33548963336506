package oracle

import (
	"errors"
	"math/big"
	"sort"
	"time"

	"collend/core/events"
	"collend/core/types"
	"collend/crypto"
	nativecommon "collend/native/common"
)

var (
	ErrUnsupportedAssetClass = errors.New("oracle engine: unsupported asset class")
	ErrInvalidPrice          = errors.New("oracle engine: price must be positive")
	ErrDeviationExceeded     = errors.New("oracle engine: spot deviation exceeds cap")
	ErrPriceUnavailable      = errors.New("oracle engine: no price available")
	ErrInvalidWindow         = errors.New("oracle engine: spot window must be positive")
	ErrInvalidDeviationCap   = errors.New("oracle engine: deviation cap out of range")
)

var basisPoints = big.NewInt(10_000)

const moduleName = "oracle"

// Engine maps (asset-class, asset-id) pairs to a current price estimate.
// Spot observations outrank class floors while fresh; floors are the
// administrative anchor reads fall back to. The engine owns its price book
// directly: valuation data is market state, not ledger state.
type Engine struct {
	classes map[string]struct{}
	floors  map[string]*big.Int
	spots   map[string]PricePoint

	window          time.Duration
	maxDeviationBps uint64

	emitter events.Emitter
	auth    nativecommon.Authorizer
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine constructs an oracle engine from the supplied configuration.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.Normalise()
	engine := &Engine{
		classes:         make(map[string]struct{}, len(cfg.Classes)),
		floors:          make(map[string]*big.Int),
		spots:           make(map[string]PricePoint),
		window:          cfg.SpotWindow,
		maxDeviationBps: cfg.MaxDeviationBps,
		emitter:         events.NoopEmitter{},
		nowFn:           func() int64 { return time.Now().Unix() },
	}
	for _, class := range cfg.Classes {
		engine.classes[class] = struct{}{}
	}
	return engine
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetAuthorizer wires the role collaborator gating every write.
func (e *Engine) SetAuthorizer(auth nativecommon.Authorizer) {
	if e == nil {
		return
	}
	e.auth = auth
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// SpotWindow returns the validity window applied to spot observations.
func (e *Engine) SpotWindow() time.Duration {
	if e == nil {
		return 0
	}
	return e.window
}

// DeviationCap returns the spot deviation cap in basis points.
func (e *Engine) DeviationCap() uint64 {
	if e == nil {
		return 0
	}
	return e.maxDeviationBps
}

// SetSpotWindow tunes the spot validity window. Risk-admin gated; applies to
// the next read, including observations already stored.
func (e *Engine) SetSpotWindow(caller crypto.Address, window time.Duration) error {
	if e == nil {
		return ErrPriceUnavailable
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleRiskAdmin, caller); err != nil {
		return err
	}
	if window <= 0 {
		return ErrInvalidWindow
	}
	e.window = window
	return nil
}

// SetDeviationCap tunes the spot deviation cap. Risk-admin gated; the cap
// must stay within (0, 10000] basis points.
func (e *Engine) SetDeviationCap(caller crypto.Address, bps uint64) error {
	if e == nil {
		return ErrPriceUnavailable
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleRiskAdmin, caller); err != nil {
		return err
	}
	if bps == 0 || bps > 10_000 {
		return ErrInvalidDeviationCap
	}
	e.maxDeviationBps = bps
	return nil
}

// RegisterAssetClass adds a class to the supported set. Registering a class
// that already exists is a no-op, not an error.
func (e *Engine) RegisterAssetClass(caller crypto.Address, class string) error {
	if e == nil {
		return ErrPriceUnavailable
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleRiskAdmin, caller); err != nil {
		return err
	}
	normalized := NormaliseClass(class)
	if normalized == "" {
		return ErrUnsupportedAssetClass
	}
	if _, ok := e.classes[normalized]; ok {
		return nil
	}
	e.classes[normalized] = struct{}{}
	e.emitEvent(NewClassRegisteredEvent(normalized, e.now()))
	return nil
}

// SupportedClasses returns the registered classes in sorted order.
func (e *Engine) SupportedClasses() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.classes))
	for class := range e.classes {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}

// SetFloorPrice anchors the class floor. Floors carry no deviation cap: they
// are deliberate administrative re-anchors, not market observations.
func (e *Engine) SetFloorPrice(caller crypto.Address, class string, price *big.Int) error {
	if e == nil {
		return ErrPriceUnavailable
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleOracleUpdater, caller); err != nil {
		return err
	}
	normalized := NormaliseClass(class)
	if _, ok := e.classes[normalized]; !ok {
		return ErrUnsupportedAssetClass
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	e.floors[normalized] = new(big.Int).Set(price)
	e.emitEvent(NewFloorUpdatedEvent(normalized, price, e.now()))
	return nil
}

// SetSpotPrice stores a spot observation for one asset. The update is
// rejected when it moves more than the deviation cap away from the price
// currently in effect; the first ever price for an asset is uncapped.
func (e *Engine) SetSpotPrice(caller crypto.Address, class, id string, price *big.Int) error {
	if e == nil {
		return ErrPriceUnavailable
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleOracleUpdater, caller); err != nil {
		return err
	}
	update := SpotUpdate{Class: class, ID: id, Price: price}
	normalized, err := e.validateSpot(update, e.now())
	if err != nil {
		return err
	}
	e.applySpot(normalized, e.now())
	return nil
}

// BatchSetSpotPrices applies a batch of spot observations all-or-nothing:
// every element is validated against the pre-batch book before any is
// stored, so one bad element leaves no partial state. When a batch carries
// several updates for the same asset the last one wins and deviation is
// assessed against the pre-batch price for all of them.
func (e *Engine) BatchSetSpotPrices(caller crypto.Address, updates []SpotUpdate) error {
	if e == nil {
		return ErrPriceUnavailable
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleOracleUpdater, caller); err != nil {
		return err
	}
	now := e.now()
	normalized := make([]SpotUpdate, 0, len(updates))
	for _, update := range updates {
		valid, err := e.validateSpot(update, now)
		if err != nil {
			return err
		}
		normalized = append(normalized, valid)
	}
	for _, update := range normalized {
		e.applySpot(update, now)
	}
	return nil
}

// GetPrice resolves the effective price for one asset: the spot observation
// while fresh, the class floor afterwards. The read path needs no role.
func (e *Engine) GetPrice(class, id string) (*big.Int, error) {
	if e == nil {
		return nil, ErrPriceUnavailable
	}
	normalizedClass := NormaliseClass(class)
	if _, ok := e.classes[normalizedClass]; !ok {
		return nil, ErrUnsupportedAssetClass
	}
	price := e.effectivePrice(normalizedClass, NormaliseAssetID(id), e.now())
	if price == nil {
		return nil, ErrPriceUnavailable
	}
	return new(big.Int).Set(price), nil
}

// FloorPrice returns the class floor, if one is anchored.
func (e *Engine) FloorPrice(class string) (*big.Int, error) {
	if e == nil {
		return nil, ErrPriceUnavailable
	}
	normalized := NormaliseClass(class)
	if _, ok := e.classes[normalized]; !ok {
		return nil, ErrUnsupportedAssetClass
	}
	floor, ok := e.floors[normalized]
	if !ok {
		return nil, ErrPriceUnavailable
	}
	return new(big.Int).Set(floor), nil
}

// validateSpot normalises and checks one update against the current book.
func (e *Engine) validateSpot(update SpotUpdate, now int64) (SpotUpdate, error) {
	normalizedClass := NormaliseClass(update.Class)
	if _, ok := e.classes[normalizedClass]; !ok {
		return SpotUpdate{}, ErrUnsupportedAssetClass
	}
	normalizedID := NormaliseAssetID(update.ID)
	if normalizedID == "" {
		return SpotUpdate{}, ErrUnsupportedAssetClass
	}
	if update.Price == nil || update.Price.Sign() <= 0 {
		return SpotUpdate{}, ErrInvalidPrice
	}
	if reference := e.effectivePrice(normalizedClass, normalizedID, now); reference != nil {
		if deviationExceeded(reference, update.Price, e.maxDeviationBps) {
			return SpotUpdate{}, ErrDeviationExceeded
		}
	}
	return SpotUpdate{Class: normalizedClass, ID: normalizedID, Price: new(big.Int).Set(update.Price)}, nil
}

func (e *Engine) applySpot(update SpotUpdate, now int64) {
	e.spots[assetKey(update.Class, update.ID)] = PricePoint{Value: update.Price, UpdatedAt: now}
	e.emitEvent(NewSpotUpdatedEvent(update.Class, update.ID, update.Price, now))
}

// effectivePrice returns the price a read would resolve right now, or nil.
func (e *Engine) effectivePrice(class, id string, now int64) *big.Int {
	if point, ok := e.spots[assetKey(class, id)]; ok && point.Value != nil {
		if now-point.UpdatedAt < int64(e.window/time.Second) {
			return point.Value
		}
	}
	if floor, ok := e.floors[class]; ok {
		return floor
	}
	return nil
}

func (e *Engine) emitEvent(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(oracleEvent{evt: event})
}

func assetKey(class, id string) string {
	return class + "/" + id
}

// deviationExceeded reports whether next moves more than capBps away from
// reference, measured relative to reference. Equality with the cap passes.
func deviationExceeded(reference, next *big.Int, capBps uint64) bool {
	if reference == nil || reference.Sign() <= 0 || next == nil {
		return false
	}
	diff := new(big.Int).Sub(next, reference)
	diff.Abs(diff)
	diff.Mul(diff, basisPoints)
	limit := new(big.Int).Mul(reference, new(big.Int).SetUint64(capBps))
	return diff.Cmp(limit) > 0
}

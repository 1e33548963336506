package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"collend/core/events"
	"collend/crypto"
	nativecommon "collend/native/common"
)

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(crypto.CLNPrefix, raw)
}

type stubPauseView struct {
	paused map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool { return s.paused[module] }

func newTestEngine(t *testing.T) (*Engine, crypto.Address, crypto.Address, *int64) {
	t.Helper()
	engine := NewEngine(Config{Classes: []string{"estate", "gaming"}})
	updater := makeAddress(0x01)
	admin := makeAddress(0x02)
	roles := nativecommon.NewStaticRoles()
	roles.Grant(nativecommon.RoleOracleUpdater, updater)
	roles.Grant(nativecommon.RoleRiskAdmin, admin)
	engine.SetAuthorizer(roles)
	now := int64(1_700_000_000)
	engine.SetNowFunc(func() int64 { return now })
	return engine, updater, admin, &now
}

func TestSetFloorPriceValidation(t *testing.T) {
	engine, updater, _, _ := newTestEngine(t)
	if err := engine.SetFloorPrice(updater, "unknown", big.NewInt(10)); !errors.Is(err, ErrUnsupportedAssetClass) {
		t.Fatalf("expected ErrUnsupportedAssetClass, got %v", err)
	}
	if err := engine.SetFloorPrice(updater, "estate", nil); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for nil, got %v", err)
	}
	if err := engine.SetFloorPrice(updater, "estate", big.NewInt(0)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero, got %v", err)
	}
	if err := engine.SetFloorPrice(updater, "estate", big.NewInt(10)); err != nil {
		t.Fatalf("set floor: %v", err)
	}
	floor, err := engine.FloorPrice("estate")
	if err != nil {
		t.Fatalf("floor price: %v", err)
	}
	if floor.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected floor %s", floor)
	}
}

func TestWriteAccessRequiresRole(t *testing.T) {
	engine, _, admin, _ := newTestEngine(t)
	stranger := makeAddress(0x99)
	if err := engine.SetFloorPrice(stranger, "estate", big.NewInt(10)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// Risk admins tune parameters but do not publish prices.
	if err := engine.SetFloorPrice(admin, "estate", big.NewInt(10)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for admin publish, got %v", err)
	}
	if err := engine.SetDeviationCap(admin, 1_000); err != nil {
		t.Fatalf("admin tune: %v", err)
	}
	if got := engine.DeviationCap(); got != 1_000 {
		t.Fatalf("unexpected cap %d", got)
	}
}

func TestSpotDeviationCap(t *testing.T) {
	engine, updater, _, _ := newTestEngine(t)
	if err := engine.SetFloorPrice(updater, "estate", big.NewInt(100)); err != nil {
		t.Fatalf("set floor: %v", err)
	}
	// Exactly at the 20% cap relative to the effective price passes.
	if err := engine.SetSpotPrice(updater, "estate", "plot-1", big.NewInt(120)); err != nil {
		t.Fatalf("spot at cap: %v", err)
	}
	// One unit above the cap relative to the new effective price (120) fails.
	if err := engine.SetSpotPrice(updater, "estate", "plot-1", big.NewInt(145)); !errors.Is(err, ErrDeviationExceeded) {
		t.Fatalf("expected ErrDeviationExceeded, got %v", err)
	}
	// Floors are uncapped re-anchors.
	if err := engine.SetFloorPrice(updater, "estate", big.NewInt(1_000)); err != nil {
		t.Fatalf("floor re-anchor: %v", err)
	}
}

func TestFirstSpotUncapped(t *testing.T) {
	engine, updater, _, _ := newTestEngine(t)
	if err := engine.SetSpotPrice(updater, "gaming", "sword-9", big.NewInt(5_000)); err != nil {
		t.Fatalf("first spot must be uncapped: %v", err)
	}
	price, err := engine.GetPrice("gaming", "sword-9")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if price.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("unexpected price %s", price)
	}
}

func TestSpotWindowFallsBackToFloor(t *testing.T) {
	engine, updater, _, now := newTestEngine(t)
	if err := engine.SetFloorPrice(updater, "estate", big.NewInt(100)); err != nil {
		t.Fatalf("set floor: %v", err)
	}
	if err := engine.SetSpotPrice(updater, "estate", "plot-1", big.NewInt(110)); err != nil {
		t.Fatalf("set spot: %v", err)
	}

	windowSecs := int64(engine.SpotWindow() / time.Second)
	*now += windowSecs - 1
	price, err := engine.GetPrice("estate", "plot-1")
	if err != nil {
		t.Fatalf("get price inside window: %v", err)
	}
	if price.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("expected fresh spot 110, got %s", price)
	}

	*now += 1 // exactly the window boundary: spot expired
	price, err = engine.GetPrice("estate", "plot-1")
	if err != nil {
		t.Fatalf("get price at expiry: %v", err)
	}
	if price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected floor 100 at expiry, got %s", price)
	}
}

func TestGetPriceUnavailableWithoutFloorOrSpot(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if _, err := engine.GetPrice("estate", "plot-404"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
	if _, err := engine.GetPrice("unknown", "x"); !errors.Is(err, ErrUnsupportedAssetClass) {
		t.Fatalf("expected ErrUnsupportedAssetClass, got %v", err)
	}
}

func TestExpiredSpotDeviationMeasuredAgainstFloor(t *testing.T) {
	engine, updater, _, now := newTestEngine(t)
	if err := engine.SetFloorPrice(updater, "estate", big.NewInt(100)); err != nil {
		t.Fatalf("set floor: %v", err)
	}
	if err := engine.SetSpotPrice(updater, "estate", "plot-1", big.NewInt(120)); err != nil {
		t.Fatalf("set spot: %v", err)
	}
	*now += int64(engine.SpotWindow()/time.Second) + 1
	// Effective price is back to the floor (100); 120 would pass against it,
	// 121 would not.
	if err := engine.SetSpotPrice(updater, "estate", "plot-1", big.NewInt(121)); !errors.Is(err, ErrDeviationExceeded) {
		t.Fatalf("expected deviation against floor, got %v", err)
	}
	if err := engine.SetSpotPrice(updater, "estate", "plot-1", big.NewInt(120)); err != nil {
		t.Fatalf("spot within cap of floor: %v", err)
	}
}

func TestBatchSetSpotPricesAllOrNothing(t *testing.T) {
	engine, updater, _, _ := newTestEngine(t)
	recorder := events.NewRecorder()
	engine.SetEmitter(recorder)

	bad := []SpotUpdate{
		{Class: "estate", ID: "plot-1", Price: big.NewInt(50)},
		{Class: "estate", ID: "plot-2", Price: big.NewInt(0)},
	}
	if err := engine.BatchSetSpotPrices(updater, bad); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := engine.GetPrice("estate", "plot-1"); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("failed batch must leave no partial state, got %v", err)
	}
	if got := len(recorder.ByType(EventTypeSpotUpdated)); got != 0 {
		t.Fatalf("failed batch emitted %d events", got)
	}

	good := []SpotUpdate{
		{Class: "estate", ID: "plot-1", Price: big.NewInt(50)},
		{Class: "gaming", ID: "sword-9", Price: big.NewInt(7)},
	}
	if err := engine.BatchSetSpotPrices(updater, good); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if got := len(recorder.ByType(EventTypeSpotUpdated)); got != 2 {
		t.Fatalf("expected 2 spot events, got %d", got)
	}
	price, err := engine.GetPrice("gaming", "sword-9")
	if err != nil || price.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("batch entry not applied: %s %v", price, err)
	}
}

func TestRegisterAssetClassIdempotent(t *testing.T) {
	engine, _, admin, _ := newTestEngine(t)
	recorder := events.NewRecorder()
	engine.SetEmitter(recorder)
	if err := engine.RegisterAssetClass(admin, "art"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := engine.RegisterAssetClass(admin, "ART "); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if got := len(recorder.ByType(EventTypeClassRegistered)); got != 1 {
		t.Fatalf("expected a single registration event, got %d", got)
	}
	classes := engine.SupportedClasses()
	if len(classes) != 3 {
		t.Fatalf("unexpected classes %v", classes)
	}
}

func TestPausedOracleRejectsWritesOnly(t *testing.T) {
	engine, updater, _, _ := newTestEngine(t)
	if err := engine.SetFloorPrice(updater, "estate", big.NewInt(10)); err != nil {
		t.Fatalf("set floor: %v", err)
	}
	engine.SetPauses(stubPauseView{paused: map[string]bool{"oracle": true}})
	if err := engine.SetFloorPrice(updater, "estate", big.NewInt(11)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := engine.GetPrice("estate", "plot-1"); err != nil {
		t.Fatalf("reads must survive a pause: %v", err)
	}
}

func TestParameterSettersValidateRanges(t *testing.T) {
	engine, _, admin, _ := newTestEngine(t)
	if err := engine.SetDeviationCap(admin, 0); !errors.Is(err, ErrInvalidDeviationCap) {
		t.Fatalf("expected ErrInvalidDeviationCap for 0, got %v", err)
	}
	if err := engine.SetDeviationCap(admin, 10_001); !errors.Is(err, ErrInvalidDeviationCap) {
		t.Fatalf("expected ErrInvalidDeviationCap for 10001, got %v", err)
	}
	if err := engine.SetSpotWindow(admin, 0); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	if err := engine.SetSpotWindow(admin, 30*time.Minute); err != nil {
		t.Fatalf("set window: %v", err)
	}
	if got := engine.SpotWindow(); got != 30*time.Minute {
		t.Fatalf("unexpected window %s", got)
	}
}

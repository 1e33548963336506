package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"collend/config"
	"collend/core/events"
	"collend/crypto"
	"collend/native/collateral"
	nativecommon "collend/native/common"
	"collend/native/lending"
	"collend/native/liquidation"
	"collend/native/oracle"
	"collend/observability/metrics"
	facade "collend/services/lending/engine"
	"collend/state"
)

// Scenario is a named sequence of steps replayed against a fresh world.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one scenario instruction. Op selects the action; the remaining
// fields feed it. A non-empty Expect inverts the step: it must fail and the
// error must contain the Expect text.
type Step struct {
	Op       string     `yaml:"op"`
	Party    string     `yaml:"party"`
	Class    string     `yaml:"class"`
	ID       string     `yaml:"id"`
	Amount   string     `yaml:"amount"`
	Price    string     `yaml:"price"`
	Shares   string     `yaml:"shares"`
	Duration int64      `yaml:"duration"`
	Seconds  int64      `yaml:"seconds"`
	Position uint64     `yaml:"position"`
	Loan     uint64     `yaml:"loan"`
	Module   string     `yaml:"module"`
	Updates  []SpotStep `yaml:"updates"`
	Expect   string     `yaml:"expect"`
}

// SpotStep is one entry of a batched spot push.
type SpotStep struct {
	ID    string `yaml:"id"`
	Price string `yaml:"price"`
}

func loadScenario(path string) (Scenario, error) {
	var sc Scenario
	file, err := os.Open(path)
	if err != nil {
		return sc, fmt.Errorf("open scenario: %w", err)
	}
	defer file.Close()
	if err := yaml.NewDecoder(file).Decode(&sc); err != nil {
		return sc, fmt.Errorf("decode scenario: %w", err)
	}
	if strings.TrimSpace(sc.Name) == "" {
		sc.Name = "unnamed"
	}
	if len(sc.Steps) == 0 {
		return sc, fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	return sc, nil
}

// world is the full module graph a scenario runs against: every engine wired
// onto one in-memory state manager, driven by a manual clock.
type world struct {
	clock int64

	manager    *state.Manager
	roles      *nativecommon.StaticRoles
	pauses     *nativecommon.Pauses
	recorder   *events.Recorder
	oracle     *oracle.Engine
	feeder     *oracle.Feeder
	ledger     *collateral.Ledger
	pool       *lending.Engine
	controller *liquidation.Engine
	facade     *facade.Facade
	metrics    *metrics.LendingMetrics

	admin     crypto.Address
	parties   map[string]crypto.Address
	positions []uint64
	snapshots []int
	log       *slog.Logger
	steps     int
}

// partyAddress derives a stable address for a scenario party name.
func partyAddress(name string) crypto.Address {
	digest := ethcrypto.Keccak256([]byte("collend/sim/party/" + name))
	return crypto.NewAddress(crypto.CLNPrefix, digest[12:])
}

func buildWorld(cfg config.Config, startAt int64, log *slog.Logger) (*world, error) {
	w := &world{
		clock:    startAt,
		manager:  state.NewManager(),
		roles:    nativecommon.NewStaticRoles(),
		pauses:   nativecommon.NewPauses(),
		recorder: events.NewRecorder(),
		metrics:  metrics.Lending(),
		admin:    partyAddress("admin"),
		parties:  make(map[string]crypto.Address),
		log:      log,
	}
	nowFn := func() int64 { return w.clock }

	w.roles.Grant(nativecommon.RoleRiskAdmin, w.admin)
	w.roles.Grant(nativecommon.RoleOracleUpdater, w.admin)

	w.pauses.Set("oracle", cfg.Pauses.Oracle)
	w.pauses.Set("collateral", cfg.Pauses.Collateral)
	w.pauses.Set("lending", cfg.Pauses.Lending)
	w.pauses.Set("liquidation", cfg.Pauses.Liquidation)

	w.oracle = oracle.NewEngine(cfg.Oracle.EngineConfig())
	w.oracle.SetEmitter(w.recorder)
	w.oracle.SetAuthorizer(w.roles)
	w.oracle.SetPauses(w.pauses)
	w.oracle.SetNowFunc(nowFn)
	w.feeder = oracle.NewFeeder(w.oracle, w.admin, 50, 16)

	liquidationAddr := crypto.ModuleAddress("liquidation")
	poolVault := crypto.ModuleAddress("lending")

	w.ledger = collateral.NewLedger(crypto.ModuleAddress("collateral"), cfg.Collateral.MaxLTVBps)
	w.ledger.SetState(w.manager)
	w.ledger.SetCustody(w.manager)
	w.ledger.SetValuation(w.oracle)
	w.ledger.SetLiquidator(liquidationAddr)
	w.ledger.SetEmitter(w.recorder)
	w.ledger.SetAuthorizer(w.roles)
	w.ledger.SetPauses(w.pauses)
	w.ledger.SetNowFunc(nowFn)

	w.pool = lending.NewEngine(poolVault)
	w.pool.SetState(w.manager)
	w.pool.SetBalances(w.manager)
	w.pool.SetPositionSource(w.ledger)
	w.pool.SetLiquidator(liquidationAddr)
	w.pool.SetEmitter(w.recorder)
	w.pool.SetAuthorizer(w.roles)
	w.pool.SetPauses(w.pauses)
	w.pool.SetNowFunc(nowFn)
	if err := w.pool.ApplyConfig(cfg.Lending); err != nil {
		return nil, fmt.Errorf("apply lending config: %w", err)
	}

	w.ledger.SetLoanSource(w.pool)

	w.controller = liquidation.NewEngine(liquidationAddr, poolVault)
	w.controller.SetState(w.manager)
	w.controller.SetLedger(w.ledger)
	w.controller.SetPool(w.pool)
	w.controller.SetBalances(w.manager)
	w.controller.SetUnwinder(w.manager)
	w.controller.SetEmitter(w.recorder)
	w.controller.SetAuthorizer(w.roles)
	w.controller.SetPauses(w.pauses)
	w.controller.SetNowFunc(nowFn)
	if err := w.controller.SetThreshold(w.admin, cfg.Liquidation.ThresholdBps); err != nil {
		return nil, fmt.Errorf("apply liquidation threshold: %w", err)
	}
	if err := w.controller.SetBonus(w.admin, cfg.Liquidation.BonusBps); err != nil {
		return nil, fmt.Errorf("apply liquidation bonus: %w", err)
	}
	if err := w.controller.SetDelay(w.admin, cfg.Liquidation.DelaySeconds); err != nil {
		return nil, fmt.Errorf("apply liquidation delay: %w", err)
	}

	w.facade = facade.New(w.ledger, w.pool, w.controller)
	w.facade.SetAllowLists(cfg.Facade.AllowedClasses, cfg.Facade.AllowedAssets)
	w.facade.SetPauses(w.pauses)
	w.facade.SetEmitter(w.recorder)
	w.facade.SetLogger(log)
	w.facade.SetClock(w.clockTime)

	return w, nil
}

func (w *world) clockTime() time.Time { return time.Unix(w.clock, 0) }

func (w *world) party(name string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("party name required")
	}
	if addr, ok := w.parties[trimmed]; ok {
		return addr, nil
	}
	addr := partyAddress(trimmed)
	w.parties[trimmed] = addr
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", raw)
	}
	return value, nil
}

// runScenario replays every step, stopping at the first deviation: an
// unexpected failure, an expected failure that succeeded, or a mismatched
// error message.
func (w *world) runScenario(ctx context.Context, sc Scenario) error {
	for i, step := range sc.Steps {
		err := w.apply(ctx, step)
		expect := strings.TrimSpace(step.Expect)
		switch {
		case expect == "" && err != nil:
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		case expect != "" && err == nil:
			return fmt.Errorf("step %d (%s): expected failure containing %q, step succeeded", i+1, step.Op, expect)
		case expect != "" && !strings.Contains(err.Error(), expect):
			return fmt.Errorf("step %d (%s): expected failure containing %q, got: %v", i+1, step.Op, expect, err)
		}
		w.steps++
		w.log.Debug("step applied", "index", i+1, "op", step.Op)
	}
	return nil
}

func (w *world) apply(ctx context.Context, step Step) error {
	switch strings.TrimSpace(step.Op) {
	case "register_class":
		return w.oracle.RegisterAssetClass(w.admin, step.Class)
	case "set_floor":
		price, err := parseAmount(step.Price)
		if err != nil {
			return err
		}
		if err := w.feeder.PushFloor(ctx, step.Class, price); err != nil {
			return err
		}
		w.metrics.IncPriceUpdate("floor")
		return nil
	case "set_spot":
		price, err := parseAmount(step.Price)
		if err != nil {
			return err
		}
		if err := w.feeder.Push(ctx, step.Class, step.ID, price); err != nil {
			return err
		}
		w.metrics.IncPriceUpdate("spot")
		return nil
	case "set_spots":
		updates := make([]oracle.SpotUpdate, 0, len(step.Updates))
		for _, u := range step.Updates {
			price, err := parseAmount(u.Price)
			if err != nil {
				return err
			}
			updates = append(updates, oracle.SpotUpdate{Class: step.Class, ID: u.ID, Price: price})
		}
		if err := w.feeder.PushBatch(ctx, updates); err != nil {
			return err
		}
		for range updates {
			w.metrics.IncPriceUpdate("spot")
		}
		return nil
	case "mint":
		party, err := w.party(step.Party)
		if err != nil {
			return err
		}
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return err
		}
		return w.manager.Mint(party, amount)
	case "seed_asset":
		party, err := w.party(step.Party)
		if err != nil {
			return err
		}
		asset := collateral.AssetRef{Class: step.Class, ID: step.ID}.Normalise()
		if !asset.Valid() {
			return fmt.Errorf("asset %q/%q is not class:id", step.Class, step.ID)
		}
		w.manager.SeedAsset(asset.Key(), party)
		return nil
	case "provide":
		party, err := w.party(step.Party)
		if err != nil {
			return err
		}
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return err
		}
		shares, err := w.facade.ProvideLiquidity(ctx, party, amount)
		if err != nil {
			return err
		}
		w.log.Info("liquidity provided", "party", step.Party, "amount", amount.String(), "shares", shares.String())
		return nil
	case "withdraw_liquidity":
		party, err := w.party(step.Party)
		if err != nil {
			return err
		}
		shares, err := parseAmount(step.Shares)
		if err != nil {
			return err
		}
		amount, err := w.facade.WithdrawLiquidity(ctx, party, shares)
		if err != nil {
			return err
		}
		w.log.Info("liquidity withdrawn", "party", step.Party, "shares", shares.String(), "amount", amount.String())
		return nil
	case "deposit_borrow":
		party, err := w.party(step.Party)
		if err != nil {
			return err
		}
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return err
		}
		positionID, loanID, err := w.facade.DepositAndBorrow(ctx, party, step.Class, step.ID, amount, step.Duration)
		if err != nil {
			return err
		}
		w.positions = append(w.positions, positionID)
		w.log.Info("deposit and borrow committed", "party", step.Party, "positionId", positionID, "loanId", loanID)
		return nil
	case "repay_withdraw":
		party, err := w.party(step.Party)
		if err != nil {
			return err
		}
		charged, err := w.facade.RepayAndWithdraw(ctx, party, step.Loan)
		if err != nil {
			return err
		}
		w.log.Info("repay and withdraw committed", "party", step.Party, "loanId", step.Loan, "charged", charged.String())
		return nil
	case "trigger":
		party, err := w.party(step.Party)
		if err != nil {
			return err
		}
		return w.facade.TriggerLiquidation(ctx, party, step.Position)
	case "execute":
		party, err := w.party(step.Party)
		if err != nil {
			return err
		}
		return w.facade.ExecuteLiquidation(ctx, party, step.Position)
	case "advance":
		if step.Seconds <= 0 {
			return fmt.Errorf("advance needs positive seconds")
		}
		w.clock += step.Seconds
		return nil
	case "pause":
		w.facade.SetPause(step.Module, true)
		return nil
	case "unpause":
		w.facade.SetPause(step.Module, false)
		return nil
	case "snapshot":
		w.snapshots = append(w.snapshots, w.manager.Snapshot())
		return nil
	case "revert":
		if len(w.snapshots) == 0 {
			return fmt.Errorf("no snapshot to revert to")
		}
		id := w.snapshots[len(w.snapshots)-1]
		w.snapshots = w.snapshots[:len(w.snapshots)-1]
		w.manager.RevertToSnapshot(id)
		return nil
	case "":
		return fmt.Errorf("step op required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// printSummary reports the run transcript and the end state an operator
// cares about: every committed event, pool books, positions and the named
// parties' balances.
func (w *world) printSummary(out io.Writer, scenarioName string) {
	wire := w.recorder.Wire()
	fmt.Fprintf(out, "scenario %q finished: %d steps, %d events\n", scenarioName, w.steps, len(wire))
	for _, evt := range wire {
		fmt.Fprintf(out, "event %s%s\n", evt.Type, formatAttributes(evt.Attributes))
	}

	books := w.pool.PoolSnapshot()
	fmt.Fprintf(out, "pool: liquidity=%s borrowed=%s reserves=%s shares=%s utilisation=%s rate=%dbps\n",
		books.TotalLiquidity, books.TotalBorrowed, books.TotalReserves, books.TotalShares,
		w.pool.Utilisation().FloatString(4), w.pool.CurrentRateBps())

	for _, id := range w.positions {
		position, err := w.ledger.GetPosition(id)
		if err != nil {
			fmt.Fprintf(out, "position %d: %v\n", id, err)
			continue
		}
		fmt.Fprintf(out, "position %d: asset=%s status=%s\n", id, position.Asset.String(), position.Status)
	}

	names := make([]string, 0, len(w.parties))
	for name := range w.parties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "party %s: balance=%s shares=%s\n",
			name, w.manager.BalanceOf(w.parties[name]), w.pool.SharesOf(w.parties[name]))
	}
}

// formatAttributes renders event attributes as sorted key=value pairs.
func formatAttributes(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(" ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(attrs[key])
	}
	return b.String()
}

// Package engine exposes the host-facing lending facade. It sequences the
// collateral ledger, liquidity pool and liquidation controller into composite
// flows, enforces the configured asset allow-lists, and serialises every call
// entering the module graph.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"collend/core/events"
	"collend/crypto"
	"collend/native/collateral"
	nativecommon "collend/native/common"
	"collend/native/lending"
	"collend/native/liquidation"
	"collend/observability/metrics"
)

// Facade is the single entry point hosts route lending traffic through. The
// engines beneath it are lock-free by contract; the facade's mutex realises
// the caller-level serialisation they rely on.
type Facade struct {
	mu sync.Mutex

	ledger     *collateral.Ledger
	pool       *lending.Engine
	controller *liquidation.Engine
	pauses     *nativecommon.Pauses

	allowedClasses map[string]struct{}
	allowedAssets  map[string]struct{}

	log     *slog.Logger
	metrics *metrics.LendingMetrics
	tracer  trace.Tracer
	emitter events.Emitter
	clock   func() time.Time
}

// New wires a facade over the three engines. Collaborators default to the
// process-wide logger, collector set and tracer; setters override them.
func New(ledger *collateral.Ledger, pool *lending.Engine, controller *liquidation.Engine) *Facade {
	return &Facade{
		ledger:     ledger,
		pool:       pool,
		controller: controller,
		log:        slog.Default(),
		metrics:    metrics.Lending(),
		tracer:     otel.Tracer("collend/lending"),
		emitter:    events.NoopEmitter{},
		clock:      time.Now,
	}
}

// SetAllowLists installs the asset-class and per-asset allow-lists. Empty
// lists allow everything. Assets are "class:id" entries; both lists are
// normalised the way asset references are.
func (f *Facade) SetAllowLists(classes, assets []string) {
	if f == nil {
		return
	}
	f.allowedClasses = nil
	if len(classes) > 0 {
		f.allowedClasses = make(map[string]struct{}, len(classes))
		for _, class := range classes {
			normalized := strings.ToLower(strings.TrimSpace(class))
			if normalized == "" {
				continue
			}
			f.allowedClasses[normalized] = struct{}{}
		}
	}
	f.allowedAssets = nil
	if len(assets) > 0 {
		f.allowedAssets = make(map[string]struct{}, len(assets))
		for _, entry := range assets {
			class, id, found := strings.Cut(entry, ":")
			if !found {
				continue
			}
			ref := collateral.AssetRef{Class: class, ID: id}.Normalise()
			if !ref.Valid() {
				continue
			}
			f.allowedAssets[ref.String()] = struct{}{}
		}
	}
}

// SetPauses hands the facade the runtime pause switches its admin surface
// flips.
func (f *Facade) SetPauses(p *nativecommon.Pauses) {
	if f == nil {
		return
	}
	f.pauses = p
}

// SetLogger replaces the structured logger.
func (f *Facade) SetLogger(log *slog.Logger) {
	if f == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	f.log = log
}

// SetMetrics replaces the collector set. A nil set disables recording.
func (f *Facade) SetMetrics(m *metrics.LendingMetrics) {
	if f == nil {
		return
	}
	f.metrics = m
}

// SetEmitter replaces the flow-event emitter.
func (f *Facade) SetEmitter(emitter events.Emitter) {
	if f == nil {
		return
	}
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// SetClock overrides the time source used for flow timestamps and latency.
func (f *Facade) SetClock(clock func() time.Time) {
	if f == nil {
		return
	}
	if clock == nil {
		clock = time.Now
	}
	f.clock = clock
}

func (f *Facade) assetAllowed(asset collateral.AssetRef) bool {
	normalized := asset.Normalise()
	if len(f.allowedClasses) > 0 {
		if _, ok := f.allowedClasses[normalized.Class]; !ok {
			return false
		}
	}
	if len(f.allowedAssets) > 0 {
		if _, ok := f.allowedAssets[normalized.String()]; !ok {
			return false
		}
	}
	return true
}

func (f *Facade) refreshPoolGauges() {
	if f.pool == nil {
		return
	}
	books := f.pool.PoolSnapshot()
	if books == nil {
		return
	}
	f.metrics.SetPoolBooks(
		bigToFloat(books.TotalLiquidity),
		bigToFloat(books.TotalBorrowed),
		bigToFloat(books.TotalReserves),
		bigToFloat(books.TotalShares),
	)
	utilisation := new(big.Rat).Mul(f.pool.Utilisation(), big.NewRat(10_000, 1))
	bps, _ := utilisation.Float64()
	f.metrics.SetUtilisationBps(bps)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	out, _ := new(big.Float).SetInt(value).Float64()
	return out
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// DepositAndBorrow escrows an asset and draws a loan against the fresh
// position in one flow. An origination failure compensates by withdrawing
// the position so the flow fully commits or fully fails.
func (f *Facade) DepositAndBorrow(ctx context.Context, party crypto.Address, class, id string, loanAmount *big.Int, duration int64) (uint64, uint64, error) {
	if f == nil || f.ledger == nil {
		return 0, 0, errNilLedger
	}
	if f.pool == nil {
		return 0, 0, errNilPool
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	start := f.clock()
	intent := uuid.NewString()
	asset := collateral.AssetRef{Class: class, ID: id}
	ctx, span := f.tracer.Start(ctx, "lending.deposit_borrow",
		trace.WithAttributes(
			attribute.String("intent.id", intent),
			attribute.String("asset", asset.String()),
		))
	defer span.End()

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.assetAllowed(asset) {
		return 0, 0, failSpan(span, ErrAssetNotAllowed)
	}

	positionID, err := f.ledger.Deposit(party, asset, loanAmount)
	if err != nil {
		return 0, 0, failSpan(span, err)
	}
	loanID, err := f.pool.Originate(party, positionID, loanAmount, duration)
	if err != nil {
		if compErr := f.ledger.Withdraw(party, positionID); compErr != nil {
			f.log.Error("compensating withdraw failed",
				"intentId", intent,
				"positionId", positionID,
				"error", compErr)
			return 0, 0, failSpan(span, fmt.Errorf("originate: %w (compensating withdraw: %v)", err, compErr))
		}
		return 0, 0, failSpan(span, err)
	}

	normalized := asset.Normalise()
	f.metrics.IncDeposit()
	f.metrics.IncOrigination()
	f.refreshPoolGauges()
	f.emitter.Emit(NewDepositBorrowFlowEvent(intent, party, normalized.Class, normalized.ID, positionID, loanID, loanAmount, start.Unix()))
	f.metrics.ObserveFlowDuration("deposit_borrow", f.clock().Sub(start).Seconds())
	span.SetAttributes(
		attribute.Int64("position.id", int64(positionID)),
		attribute.Int64("loan.id", int64(loanID)),
	)
	span.SetStatus(codes.Ok, "flow committed")
	f.log.Info("deposit and borrow committed",
		"intentId", intent,
		"party", party.String(),
		"asset", asset.String(),
		"positionId", positionID,
		"loanId", loanID)
	return positionID, loanID, nil
}

// RepayAndWithdraw settles the full outstanding debt of a loan and withdraws
// the linked position. Returns the amount charged.
func (f *Facade) RepayAndWithdraw(ctx context.Context, party crypto.Address, loanID uint64) (*big.Int, error) {
	if f == nil || f.ledger == nil {
		return nil, errNilLedger
	}
	if f.pool == nil {
		return nil, errNilPool
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := f.clock()
	intent := uuid.NewString()
	ctx, span := f.tracer.Start(ctx, "lending.repay_withdraw",
		trace.WithAttributes(
			attribute.String("intent.id", intent),
			attribute.Int64("loan.id", int64(loanID)),
		))
	defer span.End()

	f.mu.Lock()
	defer f.mu.Unlock()

	loan, err := f.pool.GetLoan(loanID)
	if err != nil {
		return nil, failSpan(span, err)
	}
	outstanding, err := f.pool.OutstandingDebt(loanID)
	if err != nil {
		return nil, failSpan(span, err)
	}
	charged, err := f.pool.Repay(party, loanID, outstanding)
	if err != nil {
		return nil, failSpan(span, err)
	}
	if err := f.ledger.Withdraw(party, loan.PositionID); err != nil {
		// The repayment is committed; only the withdrawal failed.
		f.log.Warn("repaid in full but withdraw failed",
			"intentId", intent,
			"loanId", loanID,
			"positionId", loan.PositionID,
			"error", err)
		return nil, failSpan(span, fmt.Errorf("withdraw position %d: %w", loan.PositionID, err))
	}

	f.metrics.IncRepayment()
	f.metrics.IncWithdrawal()
	f.refreshPoolGauges()
	f.emitter.Emit(NewRepayWithdrawFlowEvent(intent, party, loan.PositionID, loanID, charged, start.Unix()))
	f.metrics.ObserveFlowDuration("repay_withdraw", f.clock().Sub(start).Seconds())
	span.SetStatus(codes.Ok, "flow committed")
	f.log.Info("repay and withdraw committed",
		"intentId", intent,
		"party", party.String(),
		"loanId", loanID,
		"positionId", loan.PositionID,
		"charged", charged.String())
	return charged, nil
}

// ProvideLiquidity routes a lender deposit through the facade's mutex.
// Returns the shares minted.
func (f *Facade) ProvideLiquidity(ctx context.Context, lender crypto.Address, amount *big.Int) (*big.Int, error) {
	if f == nil || f.pool == nil {
		return nil, errNilPool
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := f.tracer.Start(ctx, "lending.provide")
	defer span.End()

	f.mu.Lock()
	defer f.mu.Unlock()

	shares, err := f.pool.Provide(lender, amount)
	if err != nil {
		return nil, failSpan(span, err)
	}
	f.refreshPoolGauges()
	span.SetStatus(codes.Ok, "liquidity provided")
	return shares, nil
}

// WithdrawLiquidity burns lender shares through the facade's mutex. Returns
// the amount paid out.
func (f *Facade) WithdrawLiquidity(ctx context.Context, lender crypto.Address, shares *big.Int) (*big.Int, error) {
	if f == nil || f.pool == nil {
		return nil, errNilPool
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := f.tracer.Start(ctx, "lending.withdraw_liquidity")
	defer span.End()

	f.mu.Lock()
	defer f.mu.Unlock()

	amount, err := f.pool.WithdrawLiquidity(lender, shares)
	if err != nil {
		return nil, failSpan(span, err)
	}
	f.refreshPoolGauges()
	span.SetStatus(codes.Ok, "liquidity withdrawn")
	return amount, nil
}

// TriggerLiquidation marks a position for liquidation through the facade's
// mutex.
func (f *Facade) TriggerLiquidation(ctx context.Context, caller crypto.Address, positionID uint64) error {
	if f == nil || f.controller == nil {
		return errNilController
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := f.tracer.Start(ctx, "liquidation.trigger",
		trace.WithAttributes(attribute.Int64("position.id", int64(positionID))))
	defer span.End()

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.controller.Trigger(caller, positionID); err != nil {
		return failSpan(span, err)
	}
	f.metrics.IncLiquidation("triggered")
	span.SetStatus(codes.Ok, "liquidation triggered")
	f.log.Info("liquidation triggered", "caller", caller.String(), "positionId", positionID)
	return nil
}

// ExecuteLiquidation settles a marked position through the facade's mutex.
func (f *Facade) ExecuteLiquidation(ctx context.Context, caller crypto.Address, positionID uint64) error {
	if f == nil || f.controller == nil {
		return errNilController
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := f.tracer.Start(ctx, "liquidation.execute",
		trace.WithAttributes(attribute.Int64("position.id", int64(positionID))))
	defer span.End()

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.controller.Execute(caller, positionID); err != nil {
		return failSpan(span, err)
	}
	f.metrics.IncLiquidation("executed")
	f.refreshPoolGauges()
	span.SetStatus(codes.Ok, "liquidation executed")
	f.log.Info("liquidation executed", "caller", caller.String(), "positionId", positionID)
	return nil
}

// SetPause flips a module's pause switch at runtime.
func (f *Facade) SetPause(module string, paused bool) {
	if f == nil || f.pauses == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses.Set(module, paused)
	f.log.Info("module pause updated", "module", module, "paused", paused)
}

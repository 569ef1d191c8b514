// Package risk implements the deterministic pre-trade constraint check
// over a proposed decision batch, per spec §4.9. It is a pure function —
// no state, no I/O — adapted from the ordered if-chain shape of the
// teacher's risk.Manager.processReport, but generalized from a single
// kill-switch check into the spec's six-check pipeline run in fixed order.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ccheney/cream-trading-backbone/pkg/types"
)

// Validate runs every check in spec order and returns the accumulated
// violation list. Same (policy, ctx, batch) always yields the same
// result in the same order.
func Validate(policy types.RiskPolicy, ctx types.RiskContext, batch types.DecisionBatch) types.ConstraintResult {
	var violations []types.Violation

	for i, d := range batch.Decisions {
		violations = append(violations, perInstrumentCaps(policy.Limits, ctx, i, d)...)
	}
	violations = append(violations, buyingPowerSufficiency(ctx, batch)...)
	violations = append(violations, portfolioCaps(policy.Limits, ctx, batch)...)
	if ctx.Greeks != nil {
		violations = append(violations, greeksCaps(policy.Limits, *ctx.Greeks)...)
	}
	for i, d := range batch.Decisions {
		violations = append(violations, conflictingOrders(ctx, i, d)...)
	}
	for i, d := range batch.Decisions {
		violations = append(violations, sizingSanity(policy.Limits, ctx, i, d)...)
	}

	accepted := true
	for _, v := range violations {
		if v.Severity == types.SeverityError || v.Severity == types.SeverityCritical {
			accepted = false
			break
		}
	}

	return types.ConstraintResult{Violations: violations, Accepted: accepted}
}

func notional(d types.Decision) decimal.Decimal {
	if d.LimitPrice != nil {
		return d.Quantity.Mul(*d.LimitPrice)
	}
	return decimal.Zero
}

// 1. Per-instrument unit / notional / percent-equity caps.
func perInstrumentCaps(limits types.ExposureLimits, ctx types.RiskContext, idx int, d types.Decision) []types.Violation {
	var out []types.Violation

	if limits.MaxUnitsPerInstrument.IsPositive() && d.Quantity.Abs().GreaterThan(limits.MaxUnitsPerInstrument) {
		out = append(out, types.Violation{
			Code: "MAX_UNITS_PER_INSTRUMENT", Severity: types.SeverityError, DecisionIndex: idx,
			Message: fmt.Sprintf("quantity %s exceeds per-instrument cap %s", d.Quantity, limits.MaxUnitsPerInstrument),
		})
	}

	n := notional(d)
	if limits.MaxNotionalPerInstrument.IsPositive() && n.Abs().GreaterThan(limits.MaxNotionalPerInstrument) {
		out = append(out, types.Violation{
			Code: "MAX_NOTIONAL_PER_INSTRUMENT", Severity: types.SeverityError, DecisionIndex: idx,
			Message: fmt.Sprintf("notional %s exceeds cap %s", n, limits.MaxNotionalPerInstrument),
		})
	}

	if limits.MaxPctEquityPerInstrument.IsPositive() && ctx.AccountEquity.IsPositive() {
		pct := n.Abs().Div(ctx.AccountEquity)
		if pct.GreaterThan(limits.MaxPctEquityPerInstrument) {
			out = append(out, types.Violation{
				Code: "MAX_PCT_EQUITY_PER_INSTRUMENT", Severity: types.SeverityError, DecisionIndex: idx,
				Message: fmt.Sprintf("notional is %s%% of equity, cap is %s%%", pct.Mul(decimal.NewFromInt(100)), limits.MaxPctEquityPerInstrument.Mul(decimal.NewFromInt(100))),
			})
		}
	}

	return out
}

// 2. Buying-power sufficiency across the whole batch.
func buyingPowerSufficiency(ctx types.RiskContext, batch types.DecisionBatch) []types.Violation {
	total := decimal.Zero
	for _, d := range batch.Decisions {
		if d.Side == types.Buy {
			total = total.Add(notional(d))
		}
	}
	if total.GreaterThan(ctx.BuyingPower) {
		return []types.Violation{{
			Code: "INSUFFICIENT_BUYING_POWER", Severity: types.SeverityCritical, DecisionIndex: -1,
			Message: fmt.Sprintf("batch buy notional %s exceeds buying power %s", total, ctx.BuyingPower),
		}}
	}
	return nil
}

// 3. Portfolio gross / net / concentration caps.
func portfolioCaps(limits types.ExposureLimits, ctx types.RiskContext, batch types.DecisionBatch) []types.Violation {
	var out []types.Violation

	gross, net := decimal.Zero, decimal.Zero
	for _, pos := range ctx.Positions {
		exposure := pos.Qty.Mul(pos.AvgEntryPrice)
		gross = gross.Add(exposure.Abs())
		net = net.Add(exposure)
	}
	for _, d := range batch.Decisions {
		n := notional(d)
		gross = gross.Add(n.Abs())
		if d.Side == types.Sell {
			n = n.Neg()
		}
		net = net.Add(n)
	}

	if limits.MaxGrossExposure.IsPositive() && gross.GreaterThan(limits.MaxGrossExposure) {
		out = append(out, types.Violation{
			Code: "MAX_GROSS_EXPOSURE", Severity: types.SeverityCritical, DecisionIndex: -1,
			Message: fmt.Sprintf("projected gross exposure %s exceeds cap %s", gross, limits.MaxGrossExposure),
		})
	}
	if limits.MaxNetExposure.IsPositive() && net.Abs().GreaterThan(limits.MaxNetExposure) {
		out = append(out, types.Violation{
			Code: "MAX_NET_EXPOSURE", Severity: types.SeverityCritical, DecisionIndex: -1,
			Message: fmt.Sprintf("projected net exposure %s exceeds cap %s", net, limits.MaxNetExposure),
		})
	}

	if limits.MaxConcentration.IsPositive() && gross.IsPositive() {
		perSymbol := make(map[types.Symbol]decimal.Decimal)
		for sym, pos := range ctx.Positions {
			perSymbol[sym] = perSymbol[sym].Add(pos.Qty.Mul(pos.AvgEntryPrice).Abs())
		}
		for i, d := range batch.Decisions {
			perSymbol[d.Symbol] = perSymbol[d.Symbol].Add(notional(d).Abs())
			frac := perSymbol[d.Symbol].Div(gross)
			if frac.GreaterThan(limits.MaxConcentration) {
				out = append(out, types.Violation{
					Code: "MAX_CONCENTRATION", Severity: types.SeverityError, DecisionIndex: i,
					Message: fmt.Sprintf("symbol %s would be %s%% of gross exposure, cap is %s%%", d.Symbol, frac.Mul(decimal.NewFromInt(100)), limits.MaxConcentration.Mul(decimal.NewFromInt(100))),
				})
			}
		}
	}

	return out
}

// 4. Options Greeks caps, portfolio-level.
func greeksCaps(limits types.ExposureLimits, g types.PortfolioGreeks) []types.Violation {
	var out []types.Violation
	check := func(code string, val, max decimal.Decimal) {
		if max.IsPositive() && val.Abs().GreaterThan(max) {
			out = append(out, types.Violation{
				Code: code, Severity: types.SeverityError, DecisionIndex: -1,
				Message: fmt.Sprintf("%s %s exceeds cap %s", code, val, max),
			})
		}
	}
	check("MAX_DELTA", g.Delta, limits.MaxDelta)
	check("MAX_GAMMA", g.Gamma, limits.MaxGamma)
	check("MAX_VEGA", g.Vega, limits.MaxVega)
	check("MAX_THETA", g.Theta, limits.MaxTheta)
	return out
}

// 5. Conflicting-order detection: an opposite-side pending order on the
// same instrument is flagged, not necessarily rejected.
func conflictingOrders(ctx types.RiskContext, idx int, d types.Decision) []types.Violation {
	var out []types.Violation
	for _, p := range ctx.PendingOrders {
		if p.Symbol == d.Symbol && p.Side != d.Side {
			out = append(out, types.Violation{
				Code: "CONFLICTING_ORDER", Severity: types.SeverityWarning, DecisionIndex: idx,
				Message: fmt.Sprintf("opposite-side pending order exists for %s", d.Symbol),
			})
		}
	}
	return out
}

// 6. Sizing sanity: warn-only, reject deviation > N x median historical size.
func sizingSanity(limits types.ExposureLimits, ctx types.RiskContext, idx int, d types.Decision) []types.Violation {
	sizes := ctx.HistoricalSizes[d.Symbol]
	if len(sizes) == 0 || !limits.SizingSanityMultiple.IsPositive() {
		return nil
	}
	med := median(sizes)
	if !med.IsPositive() {
		return nil
	}
	threshold := med.Mul(limits.SizingSanityMultiple)
	if d.Quantity.Abs().GreaterThan(threshold) {
		return []types.Violation{{
			Code: "SIZING_SANITY", Severity: types.SeverityWarning, DecisionIndex: idx,
			Message: fmt.Sprintf("quantity %s exceeds %sx median historical size %s", d.Quantity, limits.SizingSanityMultiple, med),
		}}
	}
	return nil
}

func median(sizes []decimal.Decimal) decimal.Decimal {
	if len(sizes) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(sizes))
	copy(sorted, sizes)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].GreaterThan(sorted[j]); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

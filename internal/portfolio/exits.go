package portfolio

import "perpbot/internal/domain"

// ExitKind is the action chosen by the exit check.
type ExitKind int

const (
	ExitNone ExitKind = iota
	ExitFull
	ExitPartial
	ExitRatchet
)

func (k ExitKind) String() string {
	switch k {
	case ExitFull:
		return "full"
	case ExitPartial:
		return "partial"
	case ExitRatchet:
		return "ratchet"
	default:
		return "none"
	}
}

// ExitAction is the single action taken for a position on one tick.
type ExitAction struct {
	Kind     ExitKind
	Reason   domain.CloseReason
	Price    float64 // Trigger level for closes, the new stop for ratchets
	Fraction float64 // Set for partial closes
}

// evaluateExit applies the exit rules in priority order and returns the first match.
func evaluateExit(p *domain.Position, policy ExitPolicy) ExitAction {
	price := p.CurrentPrice
	if price <= 0 || !p.IsOpen() {
		return ExitAction{}
	}
	sign := p.Side.Sign()
	reached := func(level float64) bool {
		return sign*(price-level) >= 0
	}

	if sign*(price-p.StopLoss) <= 0 {
		return ExitAction{Kind: ExitFull, Reason: domain.CloseReasonStopLoss, Price: p.StopLoss}
	}
	if reached(p.TakeProfit2) {
		return ExitAction{Kind: ExitFull, Reason: domain.CloseReasonTakeProfit2, Price: p.TakeProfit2}
	}
	if !p.PartialTaken && reached(p.TakeProfit1) && p.UnrealizedPnLPct >= policy.PartialTriggerPct {
		return ExitAction{Kind: ExitPartial, Reason: domain.CloseReasonTakeProfit1, Price: p.TakeProfit1, Fraction: policy.PartialFraction}
	}
	if p.HoldDuration >= policy.MaxHold && p.UnrealizedPnLPct < policy.MaxHoldMinProfitPct {
		return ExitAction{Kind: ExitFull, Reason: domain.CloseReasonTimeLimit, Price: price}
	}
	if p.UnrealizedPnLPct >= policy.TrailTriggerPct {
		stop := p.EntryPrice * (1 + sign*policy.TrailOffsetPct)
		if sign*(stop-p.StopLoss) > 0 {
			return ExitAction{Kind: ExitRatchet, Price: stop}
		}
	}
	return ExitAction{}
}

package events

import (
	"math/big"
	"strconv"

	"tribeone/core/types"
)

const (
	// TypeTribeIssued is emitted when base tribes are minted against collateral.
	TypeTribeIssued = "tribe.issued"
	// TypeTribeBurned is emitted when debt is repaid.
	TypeTribeBurned = "tribe.burned"
	// TypeTribeRemoved is emitted when a tribe is retired from the registry.
	TypeTribeRemoved = "tribe.removed"
	// TypeExchangeExecuted is emitted for every completed exchange.
	TypeExchangeExecuted = "exchange.executed"
	// TypeExchangeSettled is emitted when a settlement queue is reconciled.
	TypeExchangeSettled = "exchange.settled"
	// TypeBreakerTripped is emitted when a price probe latches the breaker.
	TypeBreakerTripped = "breaker.tripped"
	// TypeDebtSnapshot is emitted when the debt cache recomputes its aggregate.
	TypeDebtSnapshot = "debtcache.snapshot"
)

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

type TribeIssued struct {
	Account types.Address
	Amount  *big.Int
	Shares  *big.Int
}

func (TribeIssued) EventType() string { return TypeTribeIssued }

func (e TribeIssued) Event() *types.Event {
	return &types.Event{
		Type: TypeTribeIssued,
		Attributes: map[string]string{
			"account": e.Account.Hex(),
			"amount":  amountString(e.Amount),
			"shares":  amountString(e.Shares),
		},
	}
}

type TribeBurned struct {
	Account types.Address
	Amount  *big.Int
	Shares  *big.Int
}

func (TribeBurned) EventType() string { return TypeTribeBurned }

func (e TribeBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeTribeBurned,
		Attributes: map[string]string{
			"account": e.Account.Hex(),
			"amount":  amountString(e.Amount),
			"shares":  amountString(e.Shares),
		},
	}
}

type TribeRemoved struct {
	Key            string
	RedeemedSupply *big.Int
}

func (TribeRemoved) EventType() string { return TypeTribeRemoved }

func (e TribeRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeTribeRemoved,
		Attributes: map[string]string{
			"key":            e.Key,
			"redeemedSupply": amountString(e.RedeemedSupply),
		},
	}
}

type ExchangeExecuted struct {
	Account  types.Address
	Src      string
	Amount   *big.Int
	Dest     string
	Received *big.Int
	Fee      *big.Int
	Atomic   bool
}

func (ExchangeExecuted) EventType() string { return TypeExchangeExecuted }

func (e ExchangeExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeExecuted,
		Attributes: map[string]string{
			"account":  e.Account.Hex(),
			"src":      e.Src,
			"amount":   amountString(e.Amount),
			"dest":     e.Dest,
			"received": amountString(e.Received),
			"fee":      amountString(e.Fee),
			"atomic":   strconv.FormatBool(e.Atomic),
		},
	}
}

type ExchangeSettled struct {
	Account   types.Address
	Key       string
	Reclaimed *big.Int
	Rebated   *big.Int
	Settled   int
}

func (ExchangeSettled) EventType() string { return TypeExchangeSettled }

func (e ExchangeSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeExchangeSettled,
		Attributes: map[string]string{
			"account":   e.Account.Hex(),
			"key":       e.Key,
			"reclaimed": amountString(e.Reclaimed),
			"rebated":   amountString(e.Rebated),
			"settled":   strconv.Itoa(e.Settled),
		},
	}
}

type BreakerTripped struct {
	Key string
}

func (BreakerTripped) EventType() string { return TypeBreakerTripped }

func (e BreakerTripped) Event() *types.Event {
	return &types.Event{
		Type:       TypeBreakerTripped,
		Attributes: map[string]string{"key": e.Key},
	}
}

type DebtSnapshot struct {
	CachedDebt *big.Int
	Invalid    bool
}

func (DebtSnapshot) EventType() string { return TypeDebtSnapshot }

func (e DebtSnapshot) Event() *types.Event {
	return &types.Event{
		Type: TypeDebtSnapshot,
		Attributes: map[string]string{
			"cachedDebt": amountString(e.CachedDebt),
			"invalid":    strconv.FormatBool(e.Invalid),
		},
	}
}

package issuer

import (
	"errors"
	"math/big"

	"tribeone/core/types"
	"tribeone/native/common"
)

var errCollateralLocked = errors.New("issuer: collateral still backing debt")

// DepositCollateral credits staked collateral to the account. Loan and
// wrapper flows are external; the engine only tracks the staked balance that
// backs issuance.
func (e *Engine) DepositCollateral(caller, account types.Address, amount *big.Int) error {
	if err := e.checkCaller(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	acc, err := e.state.GetAccount(account)
	if err != nil {
		return err
	}
	acc.CollateralBalance = new(big.Int).Add(acc.CollateralBalance, amount)
	return e.state.PutAccount(account, acc)
}

// WithdrawCollateral releases staked collateral provided the remaining stake
// still covers the account's debt at the issuance ratio.
func (e *Engine) WithdrawCollateral(caller, account types.Address, amount *big.Int) error {
	if err := e.checkCaller(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	acc, err := e.state.GetAccount(account)
	if err != nil {
		return err
	}
	if acc.CollateralBalance.Cmp(amount) < 0 {
		return errCollateralLocked
	}
	debt := e.DebtBalanceOf(account)
	if debt.Sign() > 0 {
		rate, err := e.rates.Rate(e.cfg.CollateralKey)
		if err != nil {
			return err
		}
		remaining := new(big.Int).Sub(acc.CollateralBalance, amount)
		ceiling := common.MulDec(common.MulDec(remaining, rate), e.cfg.IssuanceRatio)
		if debt.Cmp(ceiling) > 0 {
			return errCollateralLocked
		}
	}
	acc.CollateralBalance = new(big.Int).Sub(acc.CollateralBalance, amount)
	return e.state.PutAccount(account, acc)
}

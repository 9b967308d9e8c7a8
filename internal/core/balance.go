package core

import "github.com/shopspring/decimal"

// ComputeBalance returns the running balance after applying a transaction of
// the given type to prior. There is no floor: balances may go negative.
func ComputeBalance(prior, amount decimal.Decimal, t TxType) decimal.Decimal {
	if t == Debit {
		return prior.Sub(amount)
	}
	return prior.Add(amount)
}

package types

import "github.com/shopspring/decimal"

// AccountCoin is the balance of a single asset.
type AccountCoin struct {
	Symbol string
	Volume decimal.Decimal
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// AccountCoins is an ordered list of AccountCoin, upserted by symbol.
type AccountCoins []AccountCoin

// Upsert replaces the coin with a matching symbol, or appends it.
func (a *AccountCoins) Upsert(c AccountCoin) {
	for i := range *a {
		if (*a)[i].Symbol == c.Symbol {
			(*a)[i] = c
			return
		}
	}
	*a = append(*a, c)
}

// Get returns the coin for symbol and whether it was found.
func (a AccountCoins) Get(symbol string) (AccountCoin, bool) {
	for _, c := range a {
		if c.Symbol == symbol {
			return c, true
		}
	}
	return AccountCoin{}, false
}

// AccountPair projects AccountCoins to the home/foreign currency pair of a
// market, per MarketConfig.
type AccountPair struct {
	Home    AccountCoin
	Foreign AccountCoin
}

// Project builds an AccountPair using cfg's currency pair.
func (a AccountCoins) Project(cfg MarketConfig) AccountPair {
	home, _ := a.Get(cfg.HomeCurrency)
	foreign, _ := a.Get(cfg.ForeignCurrency)
	home.Symbol = cfg.HomeCurrency
	foreign.Symbol = cfg.ForeignCurrency
	return AccountPair{Home: home, Foreign: foreign}
}

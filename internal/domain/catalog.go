package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Token is a tradable SPL token known to the catalog.
type Token struct {
	ID       int64  `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Mint     string `json:"mint_address"`
	Decimals int32  `json:"decimals"`
}

// Scale converts a raw on-chain integer amount into whole token units.
func (t Token) Scale(raw int64) decimal.Decimal {
	return decimal.New(raw, -t.Decimals)
}

// BaseUnits converts whole token units into the raw integer amount,
// truncating any precision below one base unit.
func (t Token) BaseUnits(amount decimal.Decimal) int64 {
	return amount.Shift(t.Decimals).IntPart()
}

// Venue is a DEX or routing service row in the catalog.
type Venue struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	APIURL string `json:"api_url"`
	Active bool   `json:"is_active"`
}

// Wallet is a user-owned trading wallet. The private key is stored
// encrypted and never serialised.
type Wallet struct {
	ID                  int64  `json:"id"`
	UserID              int64  `json:"user_id"`
	Name                string `json:"name"`
	Address             string `json:"address"`
	Active              bool   `json:"is_active"`
	EncryptedPrivateKey string `json:"-"`
}

// TokenBalance is a wallet's holding of one token.
type TokenBalance struct {
	WalletID int64           `json:"wallet_id"`
	TokenID  int64           `json:"token_id"`
	Balance  decimal.Decimal `json:"balance"`
}

// Pair is an ordered (base, quote) mint tuple. It is comparable and used
// directly as a map key.
type Pair struct {
	Base  string `json:"input_mint"`
	Quote string `json:"output_mint"`
}

// String renders the pair as "base/quote".
func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// Inverse returns the pair with base and quote swapped.
func (p Pair) Inverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// Valid reports whether both mints are set and distinct.
func (p Pair) Valid() bool {
	return p.Base != "" && p.Quote != "" && p.Base != p.Quote
}

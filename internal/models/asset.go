package models

import "fmt"

// AssetClass categorizes a registered instrument.
type AssetClass string

const (
	AssetClassCrypto    AssetClass = "CRYPTO"
	AssetClassStock     AssetClass = "STOCK"
	AssetClassForex     AssetClass = "FOREX"
	AssetClassCommodity AssetClass = "COMMODITY"
)

// Asset is a registered tradable instrument from the master-data store.
// (Symbol, Exchange) uniquely identifies an asset. The pipeline looks
// assets up but never creates them; master data is owned elsewhere.
type Asset struct {
	ID         int64      `json:"id" db:"id"`
	Symbol     string     `json:"symbol" db:"symbol"`
	Exchange   string     `json:"exchange" db:"exchange"`
	AssetClass AssetClass `json:"asset_class" db:"asset_class"`
	Name       string     `json:"name" db:"name"`
	Active     bool       `json:"is_active" db:"is_active"`
}

func (a *Asset) String() string {
	return fmt.Sprintf("Asset{ID: %d, Symbol: %s, Exchange: %s, Class: %s}", a.ID, a.Symbol, a.Exchange, a.AssetClass)
}

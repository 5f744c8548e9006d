package assets

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownAsset means the identifier is not in the registry at all.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrUnsupportedAsset means we know the identifier but no price source
	// supports it, so it cannot take part in accounting.
	ErrUnsupportedAsset = errors.New("unsupported asset")
)

type assetInfo struct {
	name        string
	isFiat      bool
	unsupported bool
}

// registry holds the canonical asset universe. The set is intentionally
// static; exchange-specific vocabularies are translated on top of it via the
// remap tables in symbols.go.
var registry = map[string]assetInfo{
	"BTC":  {name: "Bitcoin"},
	"ETH":  {name: "Ethereum"},
	"ETC":  {name: "Ethereum Classic"},
	"DASH": {name: "Dash"},
	"LTC":  {name: "Litecoin"},
	"XMR":  {name: "Monero"},
	"XRP":  {name: "Ripple"},
	"ZEC":  {name: "Zcash"},
	"BCH":  {name: "Bitcoin Cash"},
	"XLM":  {name: "Stellar"},
	"ADA":  {name: "Cardano"},
	"EOS":  {name: "EOS"},
	"XTZ":  {name: "Tezos"},
	"DOGE": {name: "Dogecoin"},
	"USDT": {name: "Tether"},
	"GNO":  {name: "Gnosis"},
	"MLN":  {name: "Melon"},
	"REP":  {name: "Augur"},
	"DAO":  {name: "The DAO"},
	"XCP":  {name: "Counterparty"},

	"EUR": {name: "Euro", isFiat: true},
	"USD": {name: "United States Dollar", isFiat: true},
	"GBP": {name: "Pound Sterling", isFiat: true},
	"JPY": {name: "Japanese Yen", isFiat: true},
	"CAD": {name: "Canadian Dollar", isFiat: true},
	"KRW": {name: "South Korean Won", isFiat: true},
	"CHF": {name: "Swiss Franc", isFiat: true},

	// Known but without any historical price coverage.
	"KFEE": {name: "Kraken Fee Credit", unsupported: true},
}

// Resolver translates identifiers into resolved Asset values. It is injected
// into the engine and the parsers instead of being a process-wide singleton
// so tests can substitute their own universe.
type Resolver struct {
	registry map[string]assetInfo
}

func NewResolver() *Resolver {
	return &Resolver{registry: registry}
}

// NewResolverWithRegistry is intended for tests that need assets the default
// universe does not carry.
func NewResolverWithRegistry(extra map[string]bool) *Resolver {
	reg := make(map[string]assetInfo, len(registry)+len(extra))
	for k, v := range registry {
		reg[k] = v
	}
	for ident, isFiat := range extra {
		reg[ident] = assetInfo{name: ident, isFiat: isFiat}
	}
	return &Resolver{registry: reg}
}

// Resolve returns the Asset for a canonical identifier.
func (r *Resolver) Resolve(identifier string) (Asset, error) {
	ident := strings.ToUpper(strings.TrimSpace(identifier))
	if ident == "" {
		return Asset{}, fmt.Errorf("%w: empty identifier", ErrUnknownAsset)
	}
	info, ok := r.registry[ident]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, ident)
	}
	if info.unsupported {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, ident)
	}
	return Asset{identifier: ident, name: info.name, isFiat: info.isFiat}, nil
}

// ResolveFromExchange translates an exchange-local symbol to the canonical
// identifier first, then resolves it.
func (r *Resolver) ResolveFromExchange(exchange, symbol string) (Asset, error) {
	return r.Resolve(CanonicalSymbol(exchange, symbol))
}

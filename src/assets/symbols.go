package assets

import "strings"

// Exchange vocabularies differ from the canonical one in a handful of
// places. These tables map exchange-local symbols to canonical identifiers;
// anything absent maps to itself.

var poloniexToCanonical = map[string]string{
	"STR":    "XLM", // Stellar is XLM everywhere, apart from Poloniex
	"BCHABC": "BCH",
	"BCHSV":  "BSV",
	"NBT":    "USNBT",
	"MYR":    "XMY",
	"WC":     "XWC",
}

var krakenToCanonical = map[string]string{
	"XXBT": "BTC",
	"XETH": "ETH",
	"XETC": "ETC",
	"XLTC": "LTC",
	"XXMR": "XMR",
	"XXRP": "XRP",
	"XZEC": "ZEC",
	"XXLM": "XLM",
	"XREP": "REP",
	"XMLN": "MLN",
	"XDAO": "DAO",
	"XXDG": "DOGE",
	"ZEUR": "EUR",
	"ZUSD": "USD",
	"ZGBP": "GBP",
	"ZJPY": "JPY",
	"ZCAD": "CAD",
	"ZKRW": "KRW",
}

var bittrexToCanonical = map[string]string{
	"BITS": "BITS-2",
	"NBT":  "USNBT",
}

// CanonicalSymbol maps an exchange-local asset symbol to the canonical
// identifier. Unlisted exchanges and symbols pass through unchanged.
func CanonicalSymbol(exchange, symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var table map[string]string
	switch strings.ToLower(exchange) {
	case "poloniex":
		table = poloniexToCanonical
	case "kraken":
		table = krakenToCanonical
	case "bittrex":
		table = bittrexToCanonical
	default:
		return symbol
	}
	if canonical, ok := table[symbol]; ok {
		return canonical
	}
	return symbol
}

// Package symbols maps between local canonical symbols and venue product ids,
// and expands configured symbol aliases.
package symbols

import "strings"

// Mapper translates between local canonical symbols (BASE-QUOTE) and the
// venue's product identifiers. Unmapped symbols pass through unchanged after
// normalization.
type Mapper struct {
	toExchange map[string]string
	toLocal    map[string]string
}

// NewMapper builds a mapper from local→exchange overrides.
func NewMapper(overrides map[string]string) *Mapper {
	m := &Mapper{
		toExchange: make(map[string]string, len(overrides)),
		toLocal:    make(map[string]string, len(overrides)),
	}
	for local, exchange := range overrides {
		local = normalize(local)
		exchange = normalize(exchange)
		if local == "" || exchange == "" {
			continue
		}
		m.toExchange[local] = exchange
		m.toLocal[exchange] = local
	}
	return m
}

// ToExchangeSymbol returns the venue product id for a local symbol.
func (m *Mapper) ToExchangeSymbol(local string) string {
	local = normalize(local)
	if exchange, ok := m.toExchange[local]; ok {
		return exchange
	}
	return local
}

// ToLocalSymbol returns the local canonical symbol for a venue product id.
func (m *Mapper) ToLocalSymbol(exchange string) string {
	exchange = normalize(exchange)
	if local, ok := m.toLocal[exchange]; ok {
		return local
	}
	return exchange
}

// AliasExpander duplicates symbols under synthetic quote-currency aliases.
// Configured as e.g. {"USD": "USDC"}, BTC-USD expands to BTC-USD and BTC-USDC.
// Applied outside the book and trade engines so synthetic symbols never feed
// back into sequencing or watermarks.
type AliasExpander struct {
	quoteAliases map[string]string
}

// NewAliasExpander builds an expander from quote-currency alias pairs.
func NewAliasExpander(quoteAliases map[string]string) *AliasExpander {
	normalized := make(map[string]string, len(quoteAliases))
	for from, to := range quoteAliases {
		from = normalize(from)
		to = normalize(to)
		if from == "" || to == "" || from == to {
			continue
		}
		normalized[from] = to
	}
	return &AliasExpander{quoteAliases: normalized}
}

// Expand returns symbol plus any synthetic aliases, original first.
func (e *AliasExpander) Expand(symbol string) []string {
	symbol = normalize(symbol)
	out := []string{symbol}
	base, quote, ok := split(symbol)
	if !ok {
		return out
	}
	if alias, found := e.quoteAliases[quote]; found {
		out = append(out, base+"-"+alias)
	}
	return out
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func split(symbol string) (base, quote string, ok bool) {
	parts := strings.Split(symbol, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

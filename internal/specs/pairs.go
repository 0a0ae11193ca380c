package specs

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// Pair maps one canonical symbol to its venue-native contract symbols.
// The Bybit symbol doubles as the canonical name; KuCoin futures contracts
// carry an "M" suffix (BTCUSDT vs XBTUSDTM-style naming).
type Pair struct {
	Symbol       string
	BybitSymbol  string
	KuCoinSymbol string
}

// VenueSymbol returns the venue-native symbol for this pair.
func (p Pair) VenueSymbol(venue domain.Venue) string {
	if venue == domain.VenueKuCoin {
		return p.KuCoinSymbol
	}
	return p.BybitSymbol
}

// LoadPairs reads the matched-pairs CSV. The file has a header row and two
// columns: bybit_symbol, kucoin_symbol. Blank lines are skipped.
func LoadPairs(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("specs: open pairs file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("specs: read pairs file: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("specs: pairs file %s is empty", path)
	}

	pairs := make([]Pair, 0, len(rows)-1)
	for i, row := range rows[1:] { // skip header
		if len(row) < 2 {
			continue
		}
		bybitSym := strings.TrimSpace(row[0])
		kucoinSym := strings.TrimSpace(row[1])
		if bybitSym == "" || kucoinSym == "" {
			return nil, fmt.Errorf("specs: pairs file row %d: empty symbol", i+2)
		}
		pairs = append(pairs, Pair{
			Symbol:       bybitSym,
			BybitSymbol:  bybitSym,
			KuCoinSymbol: kucoinSym,
		})
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("specs: pairs file %s has no usable rows", path)
	}
	return pairs, nil
}

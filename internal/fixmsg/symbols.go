package fixmsg

import "fmt"

// cusipByTicker covers the tickers the simulated venue knows about. Server
// order messages carry the CUSIP in tag 48 with IDSource=CUSIP.
var cusipByTicker = map[string]string{
	"BOOM":  "23291C10",
	"CAKE":  "16307210",
	"FUN":   "15018510",
	"HEINY": "42301230",
	"HOG":   "41282210",
	"LUV":   "84474110",
	"PLAY":  "23833710",
	"ROCK":  "37468910",
	"ZEUS":  "68162K10",
	"ZVZZT": "0ZVZZT88",
}

// CUSIPForTicker resolves a ticker to its CUSIP. Unknown tickers get a
// visibly bogus placeholder rather than an error so a bad symbol still
// produces a traceable message.
func CUSIPForTicker(ticker string) string {
	if cusip, ok := cusipByTicker[ticker]; ok {
		return cusip
	}
	return fmt.Sprintf("??%s??", ticker)
}

// KnownTickers returns the tickers the venue has CUSIPs for.
func KnownTickers() []string {
	out := make([]string, 0, len(cusipByTicker))
	for ticker := range cusipByTicker {
		out = append(out, ticker)
	}
	return out
}

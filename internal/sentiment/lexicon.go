package sentiment

// Base polarity lexicon for the keyword scorer. Values are compounded per
// matched word and clamped to [-1, 1].
var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "win": {}, "won": {}, "positive": {}, "up": {},
	"rise": {}, "gain": {}, "profit": {}, "success": {}, "strong": {},
	"high": {}, "record": {}, "best": {}, "beat": {}, "exceed": {},
	"outperform": {}, "surpass": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "loss": {}, "lost": {}, "negative": {}, "down": {}, "fall": {},
	"drop": {}, "fail": {}, "weak": {}, "low": {}, "miss": {},
	"underperform": {}, "injury": {}, "suspend": {}, "cancel": {},
	"crash": {}, "decline": {},
}

// Category-specific boosters carry extra weight in prediction market
// contexts that a general lexicon misses.
var domainBoosters = map[string]map[string]float64{
	"sports": {
		"injured": -0.4, "injury": -0.3, "questionable": -0.2,
		"out": -0.15, "doubtful": -0.3, "suspended": -0.35,
		"starting": 0.2, "active": 0.15, "cleared": 0.25,
		"dominant": 0.2, "struggling": -0.2, "slump": -0.25,
	},
	"crypto": {
		"halt": -0.4, "crash": -0.5, "dump": -0.4, "rekt": -0.45,
		"moon": 0.35, "rally": 0.3, "surge": 0.35, "adoption": 0.25,
		"sec": -0.1, "ban": -0.4, "hack": -0.5, "exploit": -0.45,
		"etf": 0.3, "institutional": 0.2, "approval": 0.35,
		"fud": -0.2, "bullish": 0.35, "bearish": -0.35,
	},
	"weather": {
		"severe": -0.3, "warning": -0.25, "watch": -0.15,
		"record": 0.1, "extreme": -0.2, "unseasonable": -0.1,
		"mild": 0.1, "clear": 0.15, "sunny": 0.1,
	},
}

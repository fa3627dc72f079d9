package store

import "fmt"

// Key schema (prefix + zero-padded timestamp so lexicographic order is
// time order for range scans):
//
//	t:<020d-time>:<id>  -> json-encoded Trade       (primary, time-ordered)
//	i:<id>              -> the matching t: key       (id -> primary lookup)

const (
	prefixTrade = "t:"
	prefixIndex = "i:"
)

func tradeKey(timeUs int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixTrade, timeUs, id))
}

func idIndexKey(id string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixIndex, id))
}

// tradePrefixBytes is the lower bound of every trade key; tradeUpperBound is the
// exclusive upper bound, so NewIter(LowerBound: tradePrefixBytes, UpperBound:
// tradeUpperBound) walks every trade key in time order.
var tradePrefixBytes = []byte(prefixTrade)

func tradeUpperBound() []byte {
	b := make([]byte, len(tradePrefixBytes))
	copy(b, tradePrefixBytes)
	b[len(b)-1]++
	return b
}

func tradeKeyForTime(timeUs int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixTrade, timeUs))
}

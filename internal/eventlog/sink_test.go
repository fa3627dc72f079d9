package eventlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"marketcore/pkg/types"
)

func TestLoggerRecordsInChronologicalOrder(t *testing.T) {
	l := New(0)
	l.LogIndicator(1, "fair_value", decimal.RequireFromString("100.5"))
	l.LogOrder(2, types.Order{ClientOrderID: "a-1"})
	l.LogAccount(3, types.AccountPair{Home: types.AccountCoin{Symbol: "USD"}})

	records := l.Records()
	require.Len(t, records, 3)
	require.Equal(t, KindIndicator, records[0].Kind)
	require.Equal(t, KindOrder, records[1].Kind)
	require.Equal(t, KindAccount, records[2].Kind)
	require.Equal(t, "fair_value", records[0].Indicator.Name)
}

func TestLoggerRingEvictsOldest(t *testing.T) {
	l := New(2)
	l.LogIndicator(1, "a", decimal.Zero)
	l.LogIndicator(2, "b", decimal.Zero)
	l.LogIndicator(3, "c", decimal.Zero)

	records := l.Records()
	require.Len(t, records, 2)
	require.Equal(t, "b", records[0].Indicator.Name)
	require.Equal(t, "c", records[1].Indicator.Name)
}

func TestLoggerOpenMirrorsRecordsToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	l := New(0)
	require.NoError(t, l.Open(path))
	l.LogIndicator(1, "x", decimal.RequireFromString("1.5"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\"x\"")
}

func TestLoggerFlushToFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flush.jsonl")

	l := New(0)
	l.LogIndicator(1, "x", decimal.RequireFromString("1"))
	l.LogIndicator(2, "y", decimal.RequireFromString("2"))
	require.NoError(t, l.FlushToFile(path))

	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\"x\"")
	require.Contains(t, string(data), "\"y\"")
}

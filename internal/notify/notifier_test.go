package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"webhook_trader/internal/models"
)

func TestFormatCycles(t *testing.T) {
	out := FormatCycles([]models.CycleSnapshot{
		{Symbol: "ETHUSDT", Stage: "partial", Cycle: []string{"BUY", "TP"}, Baseline: 10, SlTier: 1},
		{Symbol: "BTCUSDT", Stage: "idle", SlTier: -1},
	})

	assert.Contains(t, out, "ETHUSDT partial [BUY TP] base=10.0000 sl=#1")
	assert.Contains(t, out, "BTCUSDT idle [] base=0.0000\n")
}

func TestLog_Sendf(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLog(zap.New(core))

	n.Sendf("opened %s", "ETHUSDT")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "opened ETHUSDT", entries[0].ContextMap()["msg"])
	}
}

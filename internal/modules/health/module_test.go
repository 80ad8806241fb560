package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook_trader/internal/models"
	"webhook_trader/internal/modules/health/service"
)

type staticCycles []models.CycleSnapshot

func (s staticCycles) CycleStates() []models.CycleSnapshot { return s }

func TestMux_Readyz(t *testing.T) {
	state := service.NewState()
	mux := NewMux(state, staticCycles(nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	state.SetReady(true)
	state.SetWSConnected(true)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMux_HealthzIncludesCycles(t *testing.T) {
	state := service.NewState()
	state.TouchTick(time.Unix(1_700_000_000, 0))
	mux := NewMux(state, staticCycles{{Symbol: "ETHUSDT", Stage: "opened", Cycle: []string{"BUY"}, Baseline: 10, SlTier: -1}})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		LastTick int64                  `json:"lastTickUnix"`
		Cycles   []models.CycleSnapshot `json:"cycles"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1_700_000_000), body.LastTick)
	require.Len(t, body.Cycles, 1)
	assert.Equal(t, "ETHUSDT", body.Cycles[0].Symbol)
	assert.Equal(t, []string{"BUY"}, body.Cycles[0].Cycle)
}

func TestState_Reconnects(t *testing.T) {
	state := service.NewState()

	state.SetWSConnected(true)
	state.SetWSConnected(false)
	state.SetWSConnected(true)
	state.SetWSConnected(true)

	assert.Equal(t, int64(1), state.Reconnects())
	assert.True(t, state.WSConnected())
}

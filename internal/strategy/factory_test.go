package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryBuildsSMACross(t *testing.T) {
	r := DefaultRegistry("sma_cross")
	st, err := r.NewStrategy(Spec{
		InstrumentID: "BTCUSDT",
		Params:       map[string]any{"fast": 3.0, "slow": "10"},
	})
	require.NoError(t, err)
	sma, ok := st.(*SMACross)
	require.True(t, ok)
	assert.Equal(t, "sma_cross", sma.Name())
	assert.Equal(t, 3, sma.fast)
	assert.Equal(t, 10, sma.slow)
	assert.Equal(t, 1.0, sma.volume)
}

func TestDefaultRegistryParamDefaults(t *testing.T) {
	r := DefaultRegistry("sma_cross")
	st, err := r.NewStrategy(Spec{InstrumentID: "BTCUSDT"})
	require.NoError(t, err)
	sma := st.(*SMACross)
	assert.Equal(t, 5, sma.fast)
	assert.Equal(t, 20, sma.slow)
}

func TestDefaultRegistryBuildsRSIReversion(t *testing.T) {
	r := DefaultRegistry("rsi_reversion")
	st, err := r.NewStrategy(Spec{
		InstrumentID: "BTCUSDT",
		Params:       map[string]any{"period": 7.0, "oversold": 25.0, "overbought": 75.0},
	})
	require.NoError(t, err)
	assert.Equal(t, "rsi_reversion", st.Name())
}

func TestDefaultRegistryInvalidParams(t *testing.T) {
	r := DefaultRegistry("sma_cross")
	_, err := r.NewStrategy(Spec{
		InstrumentID: "BTCUSDT",
		Params:       map[string]any{"fast": 20.0, "slow": 5.0},
	})
	assert.Error(t, err)

	r = DefaultRegistry("rsi_reversion")
	_, err = r.NewStrategy(Spec{
		InstrumentID: "BTCUSDT",
		Params:       map[string]any{"oversold": 80.0, "overbought": 20.0},
	})
	assert.Error(t, err)
}

func TestRegistryUnknownName(t *testing.T) {
	r := DefaultRegistry("momentum")
	_, err := r.NewStrategy(Spec{InstrumentID: "BTCUSDT"})
	assert.Error(t, err)
}

func TestRegistryNameCaseInsensitive(t *testing.T) {
	r := DefaultRegistry("NOOP")
	st, err := r.NewStrategy(Spec{})
	require.NoError(t, err)
	assert.Equal(t, "noop", st.Name())
}

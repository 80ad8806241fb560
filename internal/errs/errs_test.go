package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		operational bool
		retryable   bool
	}{
		{name: "unexpected state", err: Unexpected(CodeNoPosition, "ETHUSDT", "LONG"), operational: true, retryable: true},
		{name: "transport", err: Transport("ETHUSDT", errors.New("eof")), operational: true, retryable: true},
		{name: "exchange busy", err: Exchange("ETHUSDT", -1003, "too many requests", nil), operational: true, retryable: true},
		{name: "unknown order", err: Exchange("ETHUSDT", ExchangeUnknownOrder, "Unknown order sent.", nil), operational: true},
		{name: "margin", err: Exchange("ETHUSDT", ExchangeMarginInsufficient, "Margin is insufficient.", nil), operational: true},
		{name: "invalid order", err: InvalidOrder("ETHUSDT", "price=NaN"), operational: true},
		{name: "config", err: Config("bad %s", "PORT")},
		{name: "fatal", err: Fatal(errors.New("boom"))},
		{name: "foreign", err: errors.New("plain")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.operational, IsOperational(tt.err))
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}

func TestWrappedStillClassified(t *testing.T) {
	err := errors.Wrap(Unexpected(CodeTPNoPosition, "BTCUSDT", "SHORT"), "takeProfit")

	assert.True(t, IsOperational(err))
	assert.Equal(t, CodeTPNoPosition, CodeOf(err))
	assert.True(t, HasCode(err, CodeNoPositions, CodeTPNoPosition))
	assert.False(t, HasCode(err, CodeNoPositions))
	assert.Equal(t, Code(""), CodeOf(errors.New("x")))
}

func TestErrorMessage(t *testing.T) {
	err := Unexpected(CodeSameSide, "ETHUSDT", "BUY").WithSignal("openPosition")
	assert.Equal(t, "SAME_SIDE: position ETHUSDT already opened on side BUY", err.Error())
	assert.Equal(t, "openPosition", err.Signal)

	ex := Exchange("ETHUSDT", -2019, "Margin is insufficient.", errors.New("api"))
	assert.Equal(t, "EXCHANGE_REJECTED: exchange rejected request for ETHUSDT (code -2019) (Margin is insufficient.): api", ex.Error())
	assert.Equal(t, int64(-2019), ExchangeCodeOf(errors.Wrap(ex, "create")))
}

func TestWithCauseCopies(t *testing.T) {
	base := Unexpected(CodeNoPositions, "ETHUSDT", "BUY")
	cause := errors.New("timeout")
	withCause := base.WithCause(cause)

	require.NotSame(t, base, withCause)
	assert.Nil(t, base.Err)
	assert.ErrorIs(t, withCause, cause)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "operational", KindOperational.String())
	assert.Equal(t, "fatal", KindFatal.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

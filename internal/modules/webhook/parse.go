package webhook

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"webhook_trader/internal/models"
)

var (
	ErrEmptyBody = errors.New("empty webhook body")
	ErrBadSide   = errors.New("side must be LONG or SHORT")
)

// ParseBody "<SYMBOL> <LONG|SHORT> [tp|tickPrice]".
// Числовой третий аргумент цена для лимитного входа, любой другой (и NaN) превращает сигнал в takeProfit.
// Inf как цена не годится: вход по рынку.
func ParseBody(body string) (models.Signal, error) {
	fields := strings.Fields(body)
	if len(fields) < 2 {
		return models.Signal{}, ErrEmptyBody
	}

	side, err := parseSide(fields[1])
	if err != nil {
		return models.Signal{}, err
	}

	sig := models.Signal{
		Name:   models.SignalOpenPosition,
		Symbol: strings.ToUpper(fields[0]),
		Side:   side,
	}
	if len(fields) > 2 {
		extra := fields[2]
		price, err := strconv.ParseFloat(extra, 64)
		switch {
		case err != nil || math.IsNaN(price):
			sig.Name = models.SignalTakeProfit
		case !math.IsInf(price, 0):
			sig.TickPrice = price
		}
	}
	return sig, nil
}

func parseSide(v string) (models.Side, error) {
	switch strings.ToUpper(v) {
	case "LONG":
		return models.SideBuy, nil
	case "SHORT":
		return models.SideSell, nil
	}
	return "", errors.Wrapf(ErrBadSide, "got %q", v)
}

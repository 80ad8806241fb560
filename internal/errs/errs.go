package errs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindConfig Kind = iota + 1
	// KindOperational: биржа отклонила запрос, сеть, rate limit.
	KindOperational
	// KindUnexpected: локальная бухгалтерия разошлась с биржей.
	KindUnexpected
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindOperational:
		return "operational"
	case KindUnexpected:
		return "unexpected"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Code string

const (
	CodeSameSide           Code = "SAME_SIDE"
	CodeNoSymbols          Code = "NO_SYMBOLS"
	CodeNoMarkPrice        Code = "NO_MARK_PRICE"
	CodeNoAsset            Code = "NO_ASSET"
	CodeNoPositions        Code = "NO_POSITIONS"
	CodeCreatedPosNotFound Code = "CREATED_POS_NOT_FOUND"
	CodeNoCycle            Code = "NO_CYCLE"
	CodeTPNoPercent        Code = "TP_NO_PERCENT"
	CodeLimitNoPercent     Code = "LIMIT_NO_PERCENT"
	CodeCycleNotStarted    Code = "CYCLE_NOT_STARTED"
	CodeTPTwoPositions     Code = "TP_TWO_POSITIONS"
	CodeTPNoPosition       Code = "TP_NO_POSITION"
	CodeTPCompleteCycle    Code = "TP_COMPLETE_CYCLE"
	CodeNoStartQuantity    Code = "NO_START_QUANTITY"
	CodeNoPosition         Code = "NO_POSITION"
	CodeGlobalNoPositions  Code = "GLOBAL_NO_POSITIONS"
	CodeNoOrders           Code = "NO_ORDERS"
	CodeRoeNoPercent       Code = "ROE_NO_PERCENT"
	CodeNoCreatedSL        Code = "NO_CREATED_SL"
	CodeNoServerTime       Code = "NO_SERVER_TIME"
	CodeNoQuantity         Code = "NO_QUANTITY"
	CodeNoOrder            Code = "NO_ORDER"
	CodeInvalidOrder       Code = "INVALID_ORDER"
	CodeExchangeRejected   Code = "EXCHANGE_REJECTED"
	CodeTransport          Code = "TRANSPORT"
	CodeInvalidConfig      Code = "INVALID_CONFIG"
	CodeInternal           Code = "INTERNAL"
)

// Error единый тип ошибки бота. Kind решает судьбу сигнала, Code нужен для диагностики.
type Error struct {
	Kind   Kind
	Code   Code
	Symbol string
	Side   string
	Signal string
	// ExchangeCode код ответа биржи, если он был.
	ExchangeCode int64
	Detail       string
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.message())
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) message() string {
	sym := e.Symbol
	side := e.Side
	switch e.Code {
	case CodeSameSide:
		return fmt.Sprintf("position %s already opened on side %s", sym, side)
	case CodeNoSymbols:
		return fmt.Sprintf("no exchange info for %s", sym)
	case CodeNoMarkPrice:
		return fmt.Sprintf("mark price for %s not found", sym)
	case CodeNoAsset:
		return fmt.Sprintf("asset for %s [%s] not found", sym, side)
	case CodeNoPositions:
		return fmt.Sprintf("positions for %s [%s] not found", sym, side)
	case CodeCreatedPosNotFound:
		return fmt.Sprintf("created position %s on side %s not visible on exchange", sym, side)
	case CodeNoCycle:
		return fmt.Sprintf("no cycle for %s [%s]", sym, side)
	case CodeTPNoPercent:
		return fmt.Sprintf("no close percent configured for TP on %s [%s]", sym, side)
	case CodeLimitNoPercent:
		return fmt.Sprintf("no percent for LIMIT order on %s [%s]", sym, side)
	case CodeCycleNotStarted:
		return fmt.Sprintf("cycle not started for %s on %s", sym, side)
	case CodeTPTwoPositions:
		return fmt.Sprintf("more than one position opened on %s [%s] for TP", sym, side)
	case CodeTPNoPosition:
		return fmt.Sprintf("no opened position %s [%s] for TP", sym, side)
	case CodeTPCompleteCycle:
		return fmt.Sprintf("%s [%s] cycle already complete, no more TP expected", sym, side)
	case CodeNoStartQuantity:
		return fmt.Sprintf("start quantity missing for %s [%s] TP", sym, side)
	case CodeNoPosition:
		return fmt.Sprintf("position %s [%s] not found", sym, side)
	case CodeGlobalNoPositions:
		return "global positions list unavailable for ROE"
	case CodeNoOrders:
		return fmt.Sprintf("no orders for %s", sym)
	case CodeRoeNoPercent:
		return fmt.Sprintf("no ROE tier for %s", sym)
	case CodeNoCreatedSL:
		return fmt.Sprintf("stop-loss was not created for %s", sym)
	case CodeNoServerTime:
		return "no server time"
	case CodeNoQuantity:
		return fmt.Sprintf("no quantity for %s", sym)
	case CodeNoOrder:
		return fmt.Sprintf("order for %s was not created", sym)
	case CodeInvalidOrder:
		return fmt.Sprintf("order for %s has invalid numbers", sym)
	case CodeExchangeRejected:
		return fmt.Sprintf("exchange rejected request for %s (code %d)", sym, e.ExchangeCode)
	case CodeTransport:
		return "transport failure"
	case CodeInvalidConfig:
		return "invalid configuration"
	case CodeInternal:
		return "internal error"
	}
	return "unknown error"
}

// Unexpected состояние, которое не сходится с биржей. Обрабатывается как operational.
func Unexpected(code Code, symbol, side string) *Error {
	return &Error{Kind: KindUnexpected, Code: code, Symbol: symbol, Side: side}
}

func Exchange(symbol string, exchangeCode int64, msg string, cause error) *Error {
	return &Error{
		Kind:         KindOperational,
		Code:         CodeExchangeRejected,
		Symbol:       symbol,
		ExchangeCode: exchangeCode,
		Detail:       msg,
		Err:          cause,
	}
}

// InvalidOrder ордер с NaN/Inf не уходит на биржу, сигнал пропускается.
func InvalidOrder(symbol, detail string) *Error {
	return &Error{Kind: KindOperational, Code: CodeInvalidOrder, Symbol: symbol, Detail: detail}
}

func Transport(symbol string, cause error) *Error {
	return &Error{Kind: KindOperational, Code: CodeTransport, Symbol: symbol, Err: cause}
}

func Config(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Code: CodeInvalidConfig, Detail: fmt.Sprintf(format, args...)}
}

func Fatal(cause error) *Error {
	return &Error{Kind: KindFatal, Code: CodeInternal, Err: cause}
}

// WithCause возвращает копию с привязанной причиной.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

func (e *Error) WithSignal(name string) *Error {
	c := *e
	c.Signal = name
	return &c
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsOperational: true для ошибок, после которых сигнал просто пропускается.
// Всё неопознанное считается фатальным.
func IsOperational(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Kind == KindOperational || e.Kind == KindUnexpected
}

func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

func HasCode(err error, codes ...Code) bool {
	c := CodeOf(err)
	if c == "" {
		return false
	}
	for _, code := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// Коды биржи, повтор которых ничего не изменит.
const (
	ExchangeUnknownOrder       int64 = -2011
	ExchangeInvalidSymbol      int64 = -1121
	ExchangeMarginInsufficient int64 = -2019
	ExchangeInvalidLeverage    int64 = -4028
)

func ExchangeCodeOf(err error) int64 {
	if e, ok := As(err); ok {
		return e.ExchangeCode
	}
	return 0
}

// Retryable operational, кроме заведомо постоянных отказов биржи.
func Retryable(err error) bool {
	if !IsOperational(err) || CodeOf(err) == CodeInvalidOrder {
		return false
	}
	switch ExchangeCodeOf(err) {
	case ExchangeUnknownOrder, ExchangeInvalidSymbol, ExchangeMarginInsufficient, ExchangeInvalidLeverage:
		return false
	}
	return true
}

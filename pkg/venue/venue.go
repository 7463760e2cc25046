package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotConnected   = errors.New("venue: not connected")
	ErrSymbolNotFound = errors.New("venue: symbol not found")
	ErrConnectionLost = errors.New("venue: connection lost")
	ErrOrderNotFound  = errors.New("venue: order not found")
	// ErrUnavailable is a platform answer that isn't a trade result, like a
	// rate limit or a server error. The session stays connected.
	ErrUnavailable = errors.New("venue: unavailable")
)

// Terminal is the trading platform a session drives. Implementations map
// their own failures to trade server return codes in Result; only transport
// failures are returned as errors, wrapping ErrConnectionLost when the
// platform handle is no longer usable and ErrUnavailable when the platform
// refused to answer.
type Terminal interface {
	Initialize(ctx context.Context) error
	Login(ctx context.Context) error
	Shutdown() error
	SymbolInfo(ctx context.Context, name string) (*SymbolInfo, error)
	OrderSend(ctx context.Context, req *OrderRequest) (*Result, error)
	OrderCancel(ctx context.Context, ticket int64) (*Result, error)
	Orders(ctx context.Context) ([]*Order, error)
	AccountInfo(ctx context.Context) (*Account, error)
}

// Retcode is a trade server return code.
type Retcode int

const (
	RetcodeRequote        Retcode = 10004
	RetcodeReject         Retcode = 10006
	RetcodeCancel         Retcode = 10007
	RetcodeDone           Retcode = 10009
	RetcodeDonePartial    Retcode = 10010
	RetcodeError          Retcode = 10011
	RetcodeTimeout        Retcode = 10012
	RetcodeInvalid        Retcode = 10013
	RetcodeInvalidVolume  Retcode = 10014
	RetcodeInvalidPrice   Retcode = 10015
	RetcodeInvalidStops   Retcode = 10016
	RetcodeTradeDisabled  Retcode = 10017
	RetcodeMarketClosed   Retcode = 10018
	RetcodeNoMoney        Retcode = 10019
	RetcodePriceOff       Retcode = 10021
	RetcodeTooManyRequest Retcode = 10024
	RetcodeConnection     Retcode = 10031
)

var retcodeNames = map[Retcode]string{
	RetcodeRequote:        "requote",
	RetcodeReject:         "request rejected",
	RetcodeCancel:         "request canceled",
	RetcodeDone:           "request completed",
	RetcodeDonePartial:    "only part of the request was completed",
	RetcodeError:          "request processing error",
	RetcodeTimeout:        "request canceled by timeout",
	RetcodeInvalid:        "invalid request",
	RetcodeInvalidVolume:  "invalid volume",
	RetcodeInvalidPrice:   "invalid price",
	RetcodeInvalidStops:   "invalid stops",
	RetcodeTradeDisabled:  "trade is disabled",
	RetcodeMarketClosed:   "market is closed",
	RetcodeNoMoney:        "not enough money",
	RetcodePriceOff:       "no quotes to process the request",
	RetcodeTooManyRequest: "too frequent requests",
	RetcodeConnection:     "no connection with the trade server",
}

func (r Retcode) String() string {
	if name, ok := retcodeNames[r]; ok {
		return fmt.Sprintf("%s (%d)", name, int(r))
	}
	return fmt.Sprintf("retcode %d", int(r))
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type Action string

const (
	ActionDeal Action = "DEAL"
)

type TimeInForce string

const (
	TimeGTC TimeInForce = "GTC"
)

type Filling string

const (
	FillingIOC Filling = "IOC"
)

type SymbolInfo struct {
	Name           string
	PriceDigits    int32
	VolumeDigits   int32
	TickSize       decimal.Decimal
	ContractSize   decimal.Decimal
	VolumeMin      decimal.Decimal
	TradingEnabled bool
}

type OrderRequest struct {
	Action      Action
	Symbol      string
	Volume      decimal.Decimal
	Side        Side
	Price       decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	Deviation   int
	Magic       int64
	Comment     string
	TypeTime    TimeInForce
	TypeFilling Filling
}

type Result struct {
	Retcode Retcode
	Ticket  int64
	Volume  decimal.Decimal
	Price   decimal.Decimal
	Comment string
}

// Done reports whether the request was fully completed.
func (r *Result) Done() bool {
	return r != nil && r.Retcode == RetcodeDone
}

type Account struct {
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	FreeMargin decimal.Decimal `json:"free_margin"`
	Leverage   int             `json:"leverage"`
}

type Order struct {
	Ticket    int64           `json:"ticket"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"type"`
	Kind      string          `json:"kind"`
	Volume    decimal.Decimal `json:"volume"`
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stop_price"`
	Time      time.Time       `json:"time"`
}

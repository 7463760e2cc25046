package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/igolaizola/aurum/pkg/venue"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const DefaultSymbol = "XAUUSDT"

type Config struct {
	Key     string
	Secret  string
	Testnet bool
	// Symbol is the futures contract every gold alias resolves to.
	Symbol string
	// BaseURL overrides the futures API endpoint.
	BaseURL string
	// ContractSize is the quantity of one lot, in contract units.
	ContractSize decimal.Decimal
	Debug        bool
}

// Terminal trades USD-M futures. Orders are sent as IOC limit orders priced
// at the requested price plus the allowed deviation, and protected with
// close-position stop and take profit orders once filled.
type Terminal struct {
	cfg     Config
	aliases map[string]string
	log     zerolog.Logger
	client  *futures.Client
}

func New(cfg Config, log zerolog.Logger) *Terminal {
	if cfg.Symbol == "" {
		cfg.Symbol = DefaultSymbol
	}
	if !cfg.ContractSize.IsPositive() {
		cfg.ContractSize = decimal.NewFromInt(100)
	}
	return &Terminal{
		cfg: cfg,
		aliases: map[string]string{
			"XAUUSD": cfg.Symbol,
			"GOLD":   cfg.Symbol,
		},
		log: log.With().Str("component", "binance").Logger(),
	}
}

func (t *Terminal) Initialize(ctx context.Context) error {
	futures.UseTestnet = t.cfg.Testnet
	t.client = futures.NewClient(t.cfg.Key, t.cfg.Secret)
	if t.cfg.BaseURL != "" {
		t.client.BaseURL = t.cfg.BaseURL
	}
	if _, err := t.client.NewSetServerTimeService().Do(ctx); err != nil {
		t.client = nil
		return fmt.Errorf("binance: couldn't sync server time: %w", err)
	}
	return nil
}

func (t *Terminal) Login(ctx context.Context) error {
	if _, err := t.client.NewGetAccountService().Do(ctx); err != nil {
		return fmt.Errorf("binance: couldn't get account: %w", err)
	}
	return nil
}

func (t *Terminal) Shutdown() error {
	if t.client != nil && t.client.HTTPClient != nil {
		t.client.HTTPClient.CloseIdleConnections()
	}
	t.client = nil
	return nil
}

// Symbol returns the venue symbol for an instrument name or alias.
func (t *Terminal) Symbol(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	if sym, ok := t.aliases[name]; ok {
		return sym
	}
	return name
}

func (t *Terminal) SymbolInfo(ctx context.Context, name string) (*venue.SymbolInfo, error) {
	sym := t.Symbol(name)
	info, err := t.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, transport(fmt.Errorf("binance: couldn't get exchange info: %w", err))
	}
	for _, s := range info.Symbols {
		if s.Symbol != sym {
			continue
		}
		if s.Status != "TRADING" {
			return nil, fmt.Errorf("binance: %s status %s: %w", sym, s.Status, venue.ErrSymbolNotFound)
		}
		si := &venue.SymbolInfo{
			Name:           s.Symbol,
			PriceDigits:    int32(s.PricePrecision),
			VolumeDigits:   int32(s.QuantityPrecision),
			ContractSize:   t.cfg.ContractSize,
			TradingEnabled: true,
		}
		if f := s.PriceFilter(); f != nil {
			si.TickSize = toDecimal(f.TickSize)
		}
		if f := s.LotSizeFilter(); f != nil {
			si.VolumeMin = toDecimal(f.MinQuantity)
		}
		return si, nil
	}
	return nil, fmt.Errorf("binance: %s: %w", sym, venue.ErrSymbolNotFound)
}

func (t *Terminal) OrderSend(ctx context.Context, req *venue.OrderRequest) (*venue.Result, error) {
	if req.Action != venue.ActionDeal {
		return &venue.Result{Retcode: venue.RetcodeInvalid, Comment: fmt.Sprintf("unsupported action %s", req.Action)}, nil
	}
	info, err := t.SymbolInfo(ctx, req.Symbol)
	if errors.Is(err, venue.ErrSymbolNotFound) {
		return &venue.Result{Retcode: venue.RetcodeInvalid, Comment: err.Error()}, nil
	}
	if errors.Is(err, venue.ErrConnectionLost) {
		return nil, err
	}
	if err != nil {
		return result(err)
	}
	qty := req.Volume.Mul(info.ContractSize).Round(info.VolumeDigits)
	if !qty.IsPositive() || qty.LessThan(info.VolumeMin) {
		return &venue.Result{Retcode: venue.RetcodeInvalidVolume, Comment: fmt.Sprintf("quantity %s below minimum %s", qty, info.VolumeMin)}, nil
	}
	price := limitPrice(req, info)

	order, err := t.client.NewCreateOrderService().Symbol(info.Name).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeIOC).
		Quantity(qty.String()).
		Price(price.String()).
		NewClientOrderID(clientOrderID(req.Magic)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return result(fmt.Errorf("binance: couldn't create order (%s %s): %w", qty, price, err))
	}
	if t.cfg.Debug {
		js, _ := json.Marshal(order)
		t.log.Debug().RawJSON("order", js).Msg("deal order")
	}

	executed := toDecimal(order.ExecutedQuantity)
	if !executed.IsPositive() {
		return &venue.Result{
			Retcode: venue.RetcodeRequote,
			Ticket:  order.OrderID,
			Comment: fmt.Sprintf("order %s without fills at %s", order.Status, price),
		}, nil
	}
	res := &venue.Result{
		Retcode: venue.RetcodeDone,
		Ticket:  order.OrderID,
		Volume:  executed.Div(info.ContractSize),
		Price:   toDecimal(order.AvgPrice),
		Comment: "order filled",
	}
	if executed.LessThan(qty) {
		res.Retcode = venue.RetcodeDonePartial
		res.Comment = fmt.Sprintf("order filled %s of %s", executed, qty)
	}

	// Protect the position on the venue side
	protections := []struct {
		kind  futures.OrderType
		price decimal.Decimal
	}{
		{futures.OrderTypeStopMarket, req.StopLoss},
		{futures.OrderTypeTakeProfitMarket, req.TakeProfit},
	}
	for _, p := range protections {
		if !p.price.IsPositive() {
			continue
		}
		_, err := t.client.NewCreateOrderService().Symbol(info.Name).
			Side(futures.SideType(req.Side.Opposite())).
			Type(p.kind).
			StopPrice(p.price.Round(info.PriceDigits).String()).
			ClosePosition(true).
			TimeInForce(futures.TimeInForceTypeGTC).
			Do(ctx)
		if err == nil {
			continue
		}
		perr, terr := result(err)
		if terr != nil {
			return res, terr
		}
		t.log.Error().Err(err).Int64("ticket", order.OrderID).Str("type", string(p.kind)).Msg("couldn't protect position")
		res.Retcode = venue.RetcodeInvalidStops
		res.Comment = fmt.Sprintf("position opened but %s rejected: %s", p.kind, perr.Comment)
		return res, nil
	}
	return res, nil
}

func (t *Terminal) OrderCancel(ctx context.Context, ticket int64) (*venue.Result, error) {
	orders, err := t.Orders(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Ticket != ticket {
			continue
		}
		if _, err := t.client.NewCancelOrderService().Symbol(o.Symbol).OrderID(ticket).Do(ctx); err != nil {
			return result(fmt.Errorf("binance: couldn't cancel order %d: %w", ticket, err))
		}
		return &venue.Result{Retcode: venue.RetcodeDone, Ticket: ticket, Comment: "order canceled"}, nil
	}
	return nil, fmt.Errorf("binance: order %d: %w", ticket, venue.ErrOrderNotFound)
}

func (t *Terminal) Orders(ctx context.Context) ([]*venue.Order, error) {
	orders, err := t.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, transport(fmt.Errorf("binance: couldn't list open orders: %w", err))
	}
	var list []*venue.Order
	for _, o := range orders {
		list = append(list, &venue.Order{
			Ticket:    o.OrderID,
			Symbol:    o.Symbol,
			Side:      venue.Side(o.Side),
			Kind:      string(o.Type),
			Volume:    toDecimal(o.OrigQuantity).Div(t.cfg.ContractSize),
			Price:     toDecimal(o.Price),
			StopPrice: toDecimal(o.StopPrice),
			Time:      time.UnixMilli(o.Time).UTC(),
		})
	}
	return list, nil
}

func (t *Terminal) AccountInfo(ctx context.Context) (*venue.Account, error) {
	acc, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, transport(fmt.Errorf("binance: couldn't get account: %w", err))
	}
	info := &venue.Account{
		Balance:    toDecimal(acc.TotalWalletBalance),
		Equity:     toDecimal(acc.TotalMarginBalance),
		Margin:     toDecimal(acc.TotalInitialMargin),
		FreeMargin: toDecimal(acc.AvailableBalance),
	}
	for _, p := range acc.Positions {
		if p.Symbol != t.cfg.Symbol {
			continue
		}
		if lev, err := strconv.Atoi(p.Leverage); err == nil {
			info.Leverage = lev
		}
	}
	return info, nil
}

// limitPrice returns the worst acceptable price given the request deviation
// in ticks.
func limitPrice(req *venue.OrderRequest, info *venue.SymbolInfo) decimal.Decimal {
	slip := info.TickSize.Mul(decimal.NewFromInt(int64(req.Deviation)))
	if req.Side == venue.SideSell {
		return req.Price.Sub(slip).Round(info.PriceDigits)
	}
	return req.Price.Add(slip).Round(info.PriceDigits)
}

func clientOrderID(magic int64) string {
	return fmt.Sprintf("aurum_%d_%d", magic, time.Now().UnixMilli())
}

// result maps a venue error to a trade server result. Errors that can't be
// expressed as a result are returned.
func result(err error) (*venue.Result, error) {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &venue.Result{Retcode: retcode(apiErr.Code), Comment: apiErr.Message}, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &venue.Result{Retcode: venue.RetcodeTimeout, Comment: err.Error()}, nil
	}
	return nil, transport(err)
}

// transport flags network failures as a lost connection and venue API
// errors as an unavailable venue.
func transport(err error) error {
	if errors.Is(err, venue.ErrConnectionLost) || errors.Is(err, venue.ErrUnavailable) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", err, venue.ErrConnectionLost)
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", err, venue.ErrUnavailable)
	}
	return err
}

func retcode(code int64) venue.Retcode {
	switch code {
	case -1003, -1015:
		return venue.RetcodeTooManyRequest
	case -1007:
		return venue.RetcodeTimeout
	case -1013, -1111, -4003, -4005, -4164:
		return venue.RetcodeInvalidVolume
	case -4014, -4016, -4024:
		return venue.RetcodeInvalidPrice
	case -2021:
		return venue.RetcodeInvalidStops
	case -2019, -2018:
		return venue.RetcodeNoMoney
	case -4131:
		return venue.RetcodePriceOff
	default:
		return venue.RetcodeReject
	}
}

func toDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

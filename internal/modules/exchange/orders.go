package exchange

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zxnxzf/rebalancer/internal/domain"
)

// Action labels in the order file. The venue side matches these, not the
// internal direction constants.
const (
	actionBuy  = "buy"
	actionSell = "sell"
)

// WriteOrders renders the executable order list. Zeroed orders (capped to
// nothing) are omitted; unresolved-price orders are written with a NaN
// price so the venue side still sees the intent.
func WriteOrders(path string, orderList []domain.Order) error {
	records := [][]string{{"order_id", "stock", "action", "shares", "price", "amount", "score", "weight"}}

	for _, o := range orderList {
		if o.Shares <= 0 {
			continue
		}

		action := actionBuy
		if o.Direction == domain.DirectionSell {
			action = actionSell
		}

		records = append(records, []string{
			o.OrderID,
			o.Symbol,
			action,
			strconv.FormatInt(o.Shares, 10),
			formatFloat(o.Price),
			formatFloat(o.Amount),
			formatFloat(o.Score),
			formatFloat(o.Weight),
		})
	}

	return writeAll(path, records)
}

// ReadOrders parses the order file back into executable orders. Rows with
// an unknown action label or a non-positive share count are malformed: the
// venue must never guess what to submit.
func ReadOrders(path string) ([]domain.Order, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, err
	}

	h := parseHeader(records[0])
	idIdx, err := h.required(OrdersFile, "order_id")
	if err != nil {
		return nil, err
	}
	stockIdx, err := h.required(OrdersFile, "stock")
	if err != nil {
		return nil, err
	}
	actionIdx, err := h.required(OrdersFile, "action")
	if err != nil {
		return nil, err
	}
	sharesIdx, err := h.required(OrdersFile, "shares")
	if err != nil {
		return nil, err
	}
	priceIdx, err := h.required(OrdersFile, "price")
	if err != nil {
		return nil, err
	}
	amountIdx := h.optional("amount")
	scoreIdx := h.optional("score")
	weightIdx := h.optional("weight")

	result := make([]domain.Order, 0, len(records)-1)
	for line, record := range records[1:] {
		o := domain.Order{
			OrderID: field(record, idIdx),
			Symbol:  domain.NormalizeSymbol(field(record, stockIdx)),
		}
		if o.OrderID == "" || o.Symbol == "" {
			return nil, fmt.Errorf("%w: %s row %d missing order id or stock",
				domain.ErrMalformedData, OrdersFile, line+2)
		}

		switch strings.ToLower(field(record, actionIdx)) {
		case actionBuy:
			o.Direction = domain.DirectionBuy
		case actionSell:
			o.Direction = domain.DirectionSell
		default:
			return nil, fmt.Errorf("%w: %s row %d has unknown action %q",
				domain.ErrMalformedData, OrdersFile, line+2, field(record, actionIdx))
		}

		o.Shares, err = strconv.ParseInt(field(record, sharesIdx), 10, 64)
		if err != nil || o.Shares <= 0 {
			return nil, fmt.Errorf("%w: %s row %d has invalid shares %q",
				domain.ErrMalformedData, OrdersFile, line+2, field(record, sharesIdx))
		}

		if v, ok := parseFloat(field(record, priceIdx)); ok && domain.ValidPrice(v) {
			o.Price = v
			o.PriceResolved = true
		} else {
			o.Price = math.NaN()
		}

		o.Amount = math.NaN()
		if v, ok := parseFloat(field(record, amountIdx)); ok {
			o.Amount = v
		}
		o.Score = math.NaN()
		if v, ok := parseFloat(field(record, scoreIdx)); ok {
			o.Score = v
		}
		o.Weight = math.NaN()
		if v, ok := parseFloat(field(record, weightIdx)); ok {
			o.Weight = v
		}

		result = append(result, o)
	}

	return result, nil
}

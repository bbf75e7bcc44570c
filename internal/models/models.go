package models

import "errors"

// OrderType is the action an order event represents.
type OrderType string

const (
	OrderTypeBuy     OrderType = "BUY"
	OrderTypeSell    OrderType = "SELL"
	OrderTypeCancel  OrderType = "CANCEL"
	OrderTypeExecute OrderType = "EXECUTE"
)

// IsNewOrder reports whether the order type places a new order on the book.
func (t OrderType) IsNewOrder() bool {
	return t == OrderTypeBuy || t == OrderTypeSell
}

// FieldMask records which envelope fields were present
// when an OrderEvent was decoded.
type FieldMask uint8

const (
	FieldOrderID FieldMask = 1 << iota
	FieldOrderType
	FieldPrice
	FieldSymbol
	FieldQuantity
	FieldTimestamp
	FieldUserID
)

var fieldNames = []struct {
	mask FieldMask
	name string
}{
	{FieldOrderID, "order_id"},
	{FieldOrderType, "order_type"},
	{FieldPrice, "price"},
	{FieldSymbol, "symbol"},
	{FieldQuantity, "quantity"},
	{FieldTimestamp, "timestamp"},
	{FieldUserID, "user_id"},
}

// Has reports whether every field in want is set in m.
func (m FieldMask) Has(want FieldMask) bool {
	return m&want == want
}

// Names returns the envelope field names set in m.
func (m FieldMask) Names() []string {
	names := make([]string, 0, len(fieldNames))
	for _, f := range fieldNames {
		if m&f.mask != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

var (
	// ErrMissingField is returned when a required envelope field is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField is returned when an envelope field has the wrong type
	// or cannot be parsed.
	ErrInvalidField = errors.New("invalid field")
)

// Types defined are struct aligned to conserve as much
// space as possible.
type OrderEvent struct {
	// NOTE: Order prices are float64, which carries the usual binary
	// precision caveat. The deviation maths is defined over floats.
	Price float64 // 8 bytes
	// Timestamp is in milliseconds.
	Timestamp int64     // 8 bytes
	Quantity  int64     // 8 bytes
	OrderID   string    // string header (16 bytes)
	OrderType OrderType // string header (16 bytes)
	Symbol    string    // string header (16 bytes)
	UserID    string    // string header (16 bytes)

	// present is filled in by the decoder only.
	present FieldMask
}

// Present returns the fields that were in the decoded envelope.
// Events constructed in code report an empty mask.
func (o OrderEvent) Present() FieldMask {
	return o.present
}

type OrderEventList []OrderEvent

// AlertType names the rule that fired.
type AlertType string

const (
	AlertTypePriceDeviation AlertType = "price_deviation"
	AlertTypeQuoteStuffing  AlertType = "quote_stuffing"
	AlertTypeSpoofing       AlertType = "spoofing"
)

// Alert is emitted by a detector for the event that triggered its rule.
//
// Symbol is the subject for price_deviation alerts, UserID for the others.
// Price is only encoded for price_deviation.
type Alert struct {
	Price     float64
	Timestamp int64
	Type      AlertType
	Symbol    string
	UserID    string
	OrderID   string
	Evidence  string
}

// Key returns the subject identifier of the alert.
func (a Alert) Key() string {
	if a.Type == AlertTypePriceDeviation {
		return a.Symbol
	}
	return a.UserID
}

type AlertList []Alert

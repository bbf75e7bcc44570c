package models

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// The envelopes are encoded by hand against jlexer/jwriter rather than
// generated: timestamps arrive as numbers or numeric strings and the
// decoder has to track which fields were present.

// DecodeOrderEvent decodes a single order envelope and checks that every
// field in require was present.
func DecodeOrderEvent(raw []byte, require FieldMask) (OrderEvent, error) {
	var ev OrderEvent
	if err := easyjson.Unmarshal(raw, &ev); err != nil {
		if errors.Is(err, ErrInvalidField) {
			return OrderEvent{}, err
		}
		return OrderEvent{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}

	if missing := require &^ ev.present; missing != 0 {
		return OrderEvent{}, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing.Names(), ","))
	}

	return ev, nil
}

// MarshalJSON supports json.Marshaler interface
func (o OrderEvent) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	o.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// MarshalEasyJSON supports easyjson.Marshaler interface
func (o OrderEvent) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"order_id":`)
	out.String(o.OrderID)
	out.RawString(`,"order_type":`)
	out.String(string(o.OrderType))
	out.RawString(`,"price":`)
	out.Float64(o.Price)
	out.RawString(`,"symbol":`)
	out.String(o.Symbol)
	out.RawString(`,"quantity":`)
	out.Int64(o.Quantity)
	out.RawString(`,"timestamp":`)
	out.Int64(o.Timestamp)
	out.RawString(`,"user_id":`)
	out.String(o.UserID)
	out.RawByte('}')
}

// UnmarshalJSON supports json.Unmarshaler interface
func (o *OrderEvent) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	o.UnmarshalEasyJSON(&r)
	return r.Error()
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface
//
// Null fields are treated as absent. Fields of the wrong type
// fail the whole decode.
func (o *OrderEvent) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}

	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}

		switch key {
		case "order_id":
			o.OrderID = in.String()
			o.present |= FieldOrderID
		case "order_type":
			o.OrderType = OrderType(in.String())
			o.present |= FieldOrderType
		case "price":
			raw := in.Raw()
			price, err := parseNumber(raw)
			if err != nil {
				in.AddError(fmt.Errorf("%w: price %s", ErrInvalidField, raw))
				break
			}
			o.Price = price
			o.present |= FieldPrice
		case "symbol":
			o.Symbol = in.String()
			o.present |= FieldSymbol
		case "quantity":
			raw := in.Raw()
			qty, err := parseInteger(raw, false)
			if err != nil {
				in.AddError(fmt.Errorf("%w: quantity %s", ErrInvalidField, raw))
				break
			}
			o.Quantity = qty
			o.present |= FieldQuantity
		case "timestamp":
			raw := in.Raw()
			ts, err := parseInteger(raw, true)
			if err != nil {
				in.AddError(fmt.Errorf("%w: timestamp %s", ErrInvalidField, raw))
				break
			}
			o.Timestamp = ts
			o.present |= FieldTimestamp
		case "user_id":
			o.UserID = in.String()
			o.present |= FieldUserID
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')

	if isTopLevel {
		in.Consumed()
	}
}

// parseNumber accepts only a bare JSON number.
func parseNumber(raw []byte) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(string(raw), 64)
}

// parseInteger accepts a JSON number with no fractional part and,
// when allowQuoted is set, the same number wrapped in a string.
func parseInteger(raw []byte, allowQuoted bool) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		if !allowQuoted {
			return 0, strconv.ErrSyntax
		}
		raw = bytes.TrimSpace(raw[1 : len(raw)-1])
	}

	s := string(raw)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, strconv.ErrRange
	}
	return int64(f), nil
}

// RawEnvelopeList holds the undecoded elements of a JSON array of
// order envelopes so each can be decoded against its own requirement.
type RawEnvelopeList []easyjson.RawMessage

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface
func (l *RawEnvelopeList) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		in.Skip()
		*l = nil
	} else {
		in.Delim('[')
		*l = (*l)[:0]
		for !in.IsDelim(']') {
			raw := in.Raw()
			*l = append(*l, easyjson.RawMessage(bytes.Clone(raw)))
			in.WantComma()
		}
		in.Delim(']')
	}

	if isTopLevel {
		in.Consumed()
	}
}

// MarshalJSON supports json.Marshaler interface
func (a Alert) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	a.MarshalEasyJSON(&w)
	return w.Buffer.BuildBytes(), w.Error
}

// MarshalEasyJSON supports easyjson.Marshaler interface
//
// The subject field follows the alert type: symbol for price deviation,
// user_id for the per-trader rules.
func (a Alert) MarshalEasyJSON(out *jwriter.Writer) {
	out.RawString(`{"alert_type":`)
	out.String(string(a.Type))

	if a.Type == AlertTypePriceDeviation {
		out.RawString(`,"symbol":`)
		out.String(a.Symbol)
		if a.UserID != "" {
			out.RawString(`,"user_id":`)
			out.String(a.UserID)
		}
		out.RawString(`,"price":`)
		out.Float64(a.Price)
	} else {
		out.RawString(`,"user_id":`)
		out.String(a.UserID)
	}

	out.RawString(`,"order_id":`)
	out.String(a.OrderID)
	out.RawString(`,"timestamp":`)
	out.Int64(a.Timestamp)
	out.RawString(`,"evidence":`)
	out.String(a.Evidence)
	out.RawByte('}')
}

// UnmarshalJSON supports json.Unmarshaler interface
func (a *Alert) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	a.UnmarshalEasyJSON(&r)
	return r.Error()
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface
func (a *Alert) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}

	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeFieldName(false)
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}

		switch key {
		case "alert_type":
			a.Type = AlertType(in.String())
		case "symbol":
			a.Symbol = in.String()
		case "user_id":
			a.UserID = in.String()
		case "order_id":
			a.OrderID = in.String()
		case "price":
			a.Price = in.Float64()
		case "timestamp":
			a.Timestamp = in.Int64()
		case "evidence":
			a.Evidence = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')

	if isTopLevel {
		in.Consumed()
	}
}

// MarshalEasyJSON supports easyjson.Marshaler interface
func (l AlertList) MarshalEasyJSON(out *jwriter.Writer) {
	if l == nil && (out.Flags&jwriter.NilSliceAsEmpty) == 0 {
		out.RawString("null")
		return
	}

	out.RawByte('[')
	for i, a := range l {
		if i > 0 {
			out.RawByte(',')
		}
		a.MarshalEasyJSON(out)
	}
	out.RawByte(']')
}

// UnmarshalEasyJSON supports easyjson.Unmarshaler interface
func (l *AlertList) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		in.Skip()
		*l = nil
	} else {
		in.Delim('[')
		*l = (*l)[:0]
		for !in.IsDelim(']') {
			var a Alert
			a.UnmarshalEasyJSON(in)
			*l = append(*l, a)
			in.WantComma()
		}
		in.Delim(']')
	}

	if isTopLevel {
		in.Consumed()
	}
}

// MarshalEasyJSON supports easyjson.Marshaler interface
func (l OrderEventList) MarshalEasyJSON(out *jwriter.Writer) {
	if l == nil && (out.Flags&jwriter.NilSliceAsEmpty) == 0 {
		out.RawString("null")
		return
	}

	out.RawByte('[')
	for i, o := range l {
		if i > 0 {
			out.RawByte(',')
		}
		o.MarshalEasyJSON(out)
	}
	out.RawByte(']')
}

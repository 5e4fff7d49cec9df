// Package feed defines the durable feed record of a wallet and the tables
// that map receipt classifications onto it.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Event is one feed record. It is keyed by transaction hash, or by a payment
// link identifier before a hash exists.
type Event struct {
	ID              string    `json:"id"`
	Type            ItemType  `json:"type,omitempty"`
	TxType          TxType    `json:"txType,omitempty"`
	Status          Status    `json:"status,omitempty"`
	OTPLStatus      Status    `json:"otplStatus,omitempty"`
	Date            time.Time `json:"date"`
	CreatedDate     time.Time `json:"createdDate"`
	Data            Data      `json:"data"`
	ReceiptReceived bool      `json:"receiptReceived"`
	FetchedOutbox   bool      `json:"fetchedOutbox"`
}

// OnChainID reports whether the record id looks like a transaction hash.
func (e *Event) OnChainID() bool {
	return strings.HasPrefix(e.ID, "0x")
}

// Clone returns a deep copy of e.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Data = e.Data.Clone()
	return &out
}

// Equal reports whether two records hold the same state.
func Equal(a, b *Event) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !a.Date.Equal(b.Date) || !a.CreatedDate.Equal(b.CreatedDate) {
		return false
	}
	ac, bc := *a, *b
	ac.Date, ac.CreatedDate = time.Time{}, time.Time{}
	bc.Date, bc.CreatedDate = time.Time{}, time.Time{}
	aj, err := json.Marshal(ac)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(bc)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// Timestamp normalises t to the precision the store keeps.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ReceiptEvent is the snapshot of the log event that carried a receipt's
// payload.
type ReceiptEvent struct {
	TxHash      string            `json:"txHash"`
	Name        string            `json:"name,omitempty"`
	EventSource string            `json:"eventSource,omitempty"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"`
	Value       string            `json:"value,omitempty"`
	PaymentID   string            `json:"paymentId,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Counterparty returns the address on the given side of the event.
func (r *ReceiptEvent) Counterparty(d Direction) string {
	if r == nil {
		return ""
	}
	switch d {
	case DirectionFrom:
		return r.From
	case DirectionTo:
		return r.To
	}
	return ""
}

// Data is the payload of a feed record. Known fields are typed; anything else
// (sender email, invoice id, seller details) lives in Extra and is flattened
// into the same JSON object.
type Data struct {
	Amount                  string         `json:"amount,omitempty"`
	Reason                  string         `json:"reason,omitempty"`
	Category                string         `json:"category,omitempty"`
	From                    string         `json:"from,omitempty"`
	To                      string         `json:"to,omitempty"`
	PaymentID               string         `json:"paymentId,omitempty"`
	CounterPartyAddress     string         `json:"counterPartyAddress,omitempty"`
	CounterPartyFullName    string         `json:"counterPartyFullName,omitempty"`
	CounterPartySmallAvatar string         `json:"counterPartySmallAvatar,omitempty"`
	ReceiptEvent            *ReceiptEvent  `json:"receiptEvent,omitempty"`
	Extra                   map[string]any `json:"-"`
}

// dataFields has Data's layout without its JSON methods.
type dataFields Data

var knownDataKeys = map[string]bool{
	"amount":                  true,
	"reason":                  true,
	"category":                true,
	"from":                    true,
	"to":                      true,
	"paymentId":               true,
	"counterPartyAddress":     true,
	"counterPartyFullName":    true,
	"counterPartySmallAvatar": true,
	"receiptEvent":            true,
}

// HasMetadata reports whether sender metadata has already been merged.
func (d Data) HasMetadata() bool {
	return d.Category != "" || d.Reason != ""
}

// Get returns a field by its JSON name, typed or extra.
func (d Data) Get(key string) (any, bool) {
	var v string
	switch key {
	case "amount":
		v = d.Amount
	case "reason":
		v = d.Reason
	case "category":
		v = d.Category
	case "from":
		v = d.From
	case "to":
		v = d.To
	case "paymentId":
		v = d.PaymentID
	case "counterPartyAddress":
		v = d.CounterPartyAddress
	case "counterPartyFullName":
		v = d.CounterPartyFullName
	case "counterPartySmallAvatar":
		v = d.CounterPartySmallAvatar
	case "receiptEvent":
		return d.ReceiptEvent, d.ReceiptEvent != nil
	default:
		val, ok := d.Extra[key]
		return val, ok
	}
	return v, v != ""
}

// Clone returns a deep copy of d.
func (d Data) Clone() Data {
	out := d
	if d.ReceiptEvent != nil {
		re := *d.ReceiptEvent
		re.Fields = maps.Clone(d.ReceiptEvent.Fields)
		out.ReceiptEvent = &re
	}
	out.Extra = maps.Clone(d.Extra)
	return out
}

// Merge returns d overlaid with every non-empty field of over.
func (d Data) Merge(over Data) Data {
	out := d.Clone()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.Amount, over.Amount)
	set(&out.Reason, over.Reason)
	set(&out.Category, over.Category)
	set(&out.From, over.From)
	set(&out.To, over.To)
	set(&out.PaymentID, over.PaymentID)
	set(&out.CounterPartyAddress, over.CounterPartyAddress)
	set(&out.CounterPartyFullName, over.CounterPartyFullName)
	set(&out.CounterPartySmallAvatar, over.CounterPartySmallAvatar)
	if over.ReceiptEvent != nil {
		out.ReceiptEvent = over.Clone().ReceiptEvent
	}
	if len(over.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(over.Extra))
		}
		maps.Copy(out.Extra, over.Extra)
	}
	return out
}

// DataFromMap builds a Data from a flat field mapping.
func DataFromMap(m map[string]any) (Data, error) {
	var d Data
	if len(m) == 0 {
		return d, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return d, err
	}
	err = json.Unmarshal(b, &d)
	return d, err
}

// MarshalJSON flattens Extra next to the typed fields.
func (d Data) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(dataFields(d))
	if err != nil || len(d.Extra) == 0 {
		return base, err
	}
	m := make(map[string]json.RawMessage, len(d.Extra)+4)
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range d.Extra {
		if knownDataKeys[k] {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		m[k] = raw
	}
	return json.Marshal(m)
}

// UnmarshalJSON collects unknown keys into Extra. A numeric amount is
// accepted and kept as its base-10 string.
func (d *Data) UnmarshalJSON(b []byte) error {
	var aux struct {
		dataFields
		Amount json.RawMessage `json:"amount"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	fields := aux.dataFields
	amount, err := decodeAmount(aux.Amount)
	if err != nil {
		return err
	}
	fields.Amount = amount
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	var extra map[string]any
	for k, raw := range all {
		if knownDataKeys[k] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	*d = Data(fields)
	d.Extra = extra
	return nil
}

func decodeAmount(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var str string
		err := json.Unmarshal(raw, &str)
		return str, err
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		n, err := decimal.NewFromString(string(raw))
		if err != nil {
			return "", fmt.Errorf("invalid amount %s: %w", raw, err)
		}
		return n.String(), nil
	default:
		return "", fmt.Errorf("amount must be a string or number, got %s", raw)
	}
}

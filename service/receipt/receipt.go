// Package receipt holds decoded transaction receipts and the rules that
// classify them into feed transaction types.
package receipt

import (
	"math/big"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Event names the classifier understands.
const (
	EventTransfer        = "Transfer"
	EventPaymentDeposit  = "PaymentDeposit"
	EventPaymentWithdraw = "PaymentWithdraw"
	EventPaymentCancel   = "PaymentCancel"
	EventUBIClaimed      = "UBIClaimed"
)

// Receipt is a confirmed transaction result with its decoded log events.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	// Status is false when the transaction reverted.
	Status bool
	Logs   []Log
}

// Log is one decoded log event. Fields hold the decoded arguments keyed by
// ABI name, with addresses in hex and integers in base 10.
type Log struct {
	Index   uint
	Name    string
	Address common.Address
	Fields  map[string]string
}

// From returns the sender field of the event.
func (l Log) From() common.Address {
	return l.address("from")
}

// To returns the receiver field of the event. UBI claims name it claimer.
func (l Log) To() common.Address {
	if to := l.address("to"); to != (common.Address{}) {
		return to
	}
	return l.address("claimer")
}

// HasField reports whether the event decoded a field with this name.
func (l Log) HasField(name string) bool {
	_, ok := l.Fields[name]
	return ok
}

// Amount returns the value or amount argument, or zero when absent.
func (l Log) Amount() *big.Int {
	for _, key := range []string{"value", "amount"} {
		raw, ok := l.Fields[key]
		if !ok {
			continue
		}
		n, ok := parseInt(raw)
		if ok {
			return n
		}
	}
	return new(big.Int)
}

// PaymentID returns the payment link identifier of an OTPL event.
func (l Log) PaymentID() string {
	return l.Fields["paymentId"]
}

func (l Log) address(field string) common.Address {
	raw := l.Fields[field]
	if !common.IsHexAddress(raw) {
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

func parseInt(raw string) (*big.Int, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return new(big.Int).SetString(raw[2:], 16)
	}
	return new(big.Int).SetString(raw, 10)
}

// Contracts are the addresses the classifier matches against.
type Contracts struct {
	Token           common.Address
	OneTimePayments common.Address
	Identity        common.Address
	UBI             []common.Address
	Rewards         []common.Address
	Wallet          common.Address
}

func (c Contracts) isUBI(a common.Address) bool {
	return slices.Contains(c.UBI, a)
}

func (c Contracts) isRewards(a common.Address) bool {
	return slices.Contains(c.Rewards, a)
}

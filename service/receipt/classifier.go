package receipt

import (
	"maps"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/ethereum/go-ethereum/common"
)

// Classifier maps receipts to transaction types and picks the log event that
// carries each type's payload.
type Classifier struct {
	contracts Contracts
}

// NewClassifier creates a Classifier for the given wallet and contracts.
func NewClassifier(contracts Contracts) *Classifier {
	return &Classifier{contracts: contracts}
}

// Contracts returns the addresses the classifier was built with.
func (c *Classifier) Contracts() Contracts {
	return c.contracts
}

// Classify returns the transaction type of r. Rules are checked in priority
// order and the first match wins.
func (c *Classifier) Classify(r *Receipt) feed.TxType {
	if !r.Status {
		return feed.TxError
	}
	if hasEvent(r.Logs, EventPaymentCancel) {
		return feed.TxOTPLCancel
	}
	if hasEvent(r.Logs, EventPaymentWithdraw) {
		return feed.TxOTPLWithdraw
	}
	for _, l := range r.Logs {
		if l.Name == EventPaymentDeposit && c.depositTarget(l) == c.contracts.OneTimePayments && l.From() == c.contracts.Wallet {
			return feed.TxOTPLDeposit
		}
	}
	if hasEvent(r.Logs, EventUBIClaimed) {
		return feed.TxClaim
	}

	transfers := c.tokenTransfers(r.Logs)
	rules := []struct {
		match  func(Log) bool
		txType feed.TxType
	}{
		{func(l Log) bool { return l.To() == c.contracts.OneTimePayments && l.From() == c.contracts.Wallet }, feed.TxOTPLDeposit},
		{func(l Log) bool { return c.contracts.isUBI(l.From()) }, feed.TxClaim},
		{func(l Log) bool { return c.contracts.isRewards(l.From()) }, feed.TxReward},
		{func(l Log) bool { return l.From() == (common.Address{}) }, feed.TxMint},
		{func(l Log) bool { return l.To() == c.contracts.Wallet }, feed.TxReceive},
		{func(l Log) bool { return l.From() == c.contracts.Wallet }, feed.TxSend},
	}
	for _, rule := range rules {
		for _, l := range transfers {
			if rule.match(l) {
				return rule.txType
			}
		}
	}
	return feed.TxUnknown
}

// Extract returns the log event carrying the payload for txType. The second
// result is false when the type has no extraction rule or nothing matched.
func (c *Classifier) Extract(txType feed.TxType, r *Receipt) (Log, bool) {
	wallet := c.contracts.Wallet

	switch txType {
	case feed.TxOTPLCancel:
		return first(r.Logs, func(l Log) bool { return l.Name == EventPaymentCancel })
	case feed.TxOTPLWithdraw:
		return first(r.Logs, func(l Log) bool { return l.Name == EventPaymentWithdraw })
	case feed.TxOTPLDeposit:
		return first(r.Logs, func(l Log) bool {
			return l.Name == EventPaymentDeposit ||
				(l.To() == c.contracts.OneTimePayments && l.From() == wallet)
		})
	case feed.TxSend:
		return largest(c.tokenTransfers(r.Logs), func(l Log) bool { return l.From() == wallet })
	case feed.TxReceive, feed.TxMint:
		return largest(c.tokenTransfers(r.Logs), func(l Log) bool { return l.To() == wallet })
	case feed.TxClaim:
		return largest(r.Logs, func(l Log) bool {
			return l.Name == EventUBIClaimed ||
				(l.Name == EventTransfer && c.contracts.isUBI(l.From()))
		})
	case feed.TxReward:
		return largest(r.Logs, func(l Log) bool {
			return l.Name == EventTransfer && c.contracts.isRewards(l.From()) && l.To() == wallet
		})
	}
	return Log{}, false
}

// depositTarget is the destination of a PaymentDeposit: its to argument when
// decoded, otherwise the contract that emitted it.
func (c *Classifier) depositTarget(l Log) common.Address {
	if l.HasField("to") {
		return l.To()
	}
	return l.Address
}

func (c *Classifier) tokenTransfers(logs []Log) []Log {
	var out []Log
	for _, l := range logs {
		if l.Name == EventTransfer && l.Address == c.contracts.Token {
			out = append(out, l)
		}
	}
	return out
}

func hasEvent(logs []Log, name string) bool {
	_, ok := first(logs, func(l Log) bool { return l.Name == name })
	return ok
}

func first(logs []Log, match func(Log) bool) (Log, bool) {
	for _, l := range logs {
		if match(l) {
			return l, true
		}
	}
	return Log{}, false
}

// largest returns the matching log with the greatest amount. Ties keep the
// earliest log.
func largest(logs []Log, match func(Log) bool) (Log, bool) {
	var (
		best  Log
		found bool
	)
	for _, l := range logs {
		if !match(l) {
			continue
		}
		if !found || l.Amount().Cmp(best.Amount()) > 0 {
			best, found = l, true
		}
	}
	return best, found
}

// Snapshot converts l into the receipt event stored on a feed record.
func Snapshot(txHash string, l Log, ok bool) *feed.ReceiptEvent {
	ev := &feed.ReceiptEvent{TxHash: txHash}
	if !ok {
		return ev
	}
	ev.Name = l.Name
	ev.EventSource = l.Address.Hex()
	if from := l.From(); from != (common.Address{}) || l.HasField("from") {
		ev.From = from.Hex()
	}
	if to := l.To(); to != (common.Address{}) || l.HasField("to") {
		ev.To = to.Hex()
	}
	if amount := l.Amount(); l.HasField("value") || l.HasField("amount") {
		ev.Value = amount.String()
	}
	ev.PaymentID = l.PaymentID()
	ev.Fields = maps.Clone(l.Fields)
	return ev
}

package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/brojonat/walletfeed/service/receipt"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// eventsABI declares the only log events the feed needs to decode.
const eventsABI = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"PaymentDeposit","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"paymentId","type":"bytes32","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"PaymentWithdraw","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"paymentId","type":"bytes32","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"PaymentCancel","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"paymentId","type":"bytes32","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"UBIClaimed","anonymous":false,"inputs":[
		{"name":"claimer","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}
]`

// Decoder turns raw logs into named receipt events.
type Decoder struct {
	abi abi.ABI
}

// NewDecoder parses the built-in event definitions.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(eventsABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse event abi: %w", err)
	}
	return &Decoder{abi: parsed}, nil
}

// Topic returns the signature hash of a known event.
func (d *Decoder) Topic(name string) common.Hash {
	return d.abi.Events[name].ID
}

// DecodeLog decodes l. The second result is false for events the decoder
// does not know and for logs that do not match their declared layout.
func (d *Decoder) DecodeLog(l *types.Log) (receipt.Log, bool) {
	if l == nil || len(l.Topics) == 0 {
		return receipt.Log{}, false
	}
	event, err := d.abi.EventByID(l.Topics[0])
	if err != nil {
		return receipt.Log{}, false
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(l.Topics)-1 != len(indexed) {
		// Same signature, different indexing (ERC-721 Transfer for one).
		return receipt.Log{}, false
	}

	values := make(map[string]any, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(values, indexed, l.Topics[1:]); err != nil {
		return receipt.Log{}, false
	}
	if err := event.Inputs.UnpackIntoMap(values, l.Data); err != nil {
		return receipt.Log{}, false
	}

	fields := make(map[string]string, len(values))
	for name, v := range values {
		fields[name] = formatValue(v)
	}
	return receipt.Log{
		Index:   l.Index,
		Name:    event.Name,
		Address: l.Address,
		Fields:  fields,
	}, true
}

// DecodeReceipt converts r with its logs. Unknown logs are dropped.
func (d *Decoder) DecodeReceipt(r *types.Receipt) *receipt.Receipt {
	out := &receipt.Receipt{
		TxHash: r.TxHash.Hex(),
		Status: r.Status == types.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	for _, l := range r.Logs {
		if decoded, ok := d.DecodeLog(l); ok {
			out.Logs = append(out.Logs, decoded)
		}
	}
	return out
}

func formatValue(v any) string {
	switch v := v.(type) {
	case common.Address:
		return v.Hex()
	case *big.Int:
		return v.String()
	case [32]byte:
		return hexutil.Encode(v[:])
	case common.Hash:
		return v.Hex()
	case []byte:
		return hexutil.Encode(v)
	case string:
		return v
	}
	return fmt.Sprint(v)
}

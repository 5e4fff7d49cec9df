package feed

// TxType is the raw classification tag assigned to a receipt.
type TxType string

const (
	TxOTPLCancel   TxType = "TX_OTPL_CANCEL"
	TxOTPLWithdraw TxType = "TX_OTPL_WITHDRAW"
	TxOTPLDeposit  TxType = "TX_OTPL_DEPOSIT"
	TxSend         TxType = "TX_SEND_GD"
	TxReceive      TxType = "TX_RECEIVE_GD"
	TxClaim        TxType = "TX_CLAIM"
	TxReward       TxType = "TX_REWARD"
	TxMint         TxType = "TX_MINT"
	TxError        TxType = "TX_ERROR"
	TxUnknown      TxType = "TX_UNKNOWN"
)

// ItemType is the user-facing kind of a feed record.
type ItemType string

const (
	ItemSend       ItemType = "send"
	ItemWithdraw   ItemType = "withdraw"
	ItemBonus      ItemType = "bonus"
	ItemClaim      ItemType = "claim"
	ItemSendDirect ItemType = "senddirect"
	ItemMint       ItemType = "mint"
	ItemReceive    ItemType = "receive"
	ItemNews       ItemType = "news"
)

// Status is the lifecycle state of a feed record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDeleted   Status = "deleted"
	StatusError     Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled, StatusDeleted, StatusError:
		return true
	}
	return false
}

// Category filters feed pages.
type Category string

const (
	CategoryAll          Category = "all"
	CategoryTransactions Category = "transactions"
	CategoryRewards      Category = "rewards"
)

// ParseCategory maps a query value onto a Category. Empty means all.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case "", CategoryAll:
		return CategoryAll, true
	case CategoryTransactions, CategoryRewards:
		return Category(s), true
	}
	return "", false
}

// Includes reports whether records of type t belong to category c.
func (c Category) Includes(t ItemType) bool {
	rewards := t == ItemClaim || t == ItemBonus
	switch c {
	case CategoryRewards:
		return rewards
	case CategoryTransactions:
		return !rewards
	}
	return true
}

// RewardTypes are the item types listed under CategoryRewards.
var RewardTypes = []ItemType{ItemClaim, ItemBonus}

var txItemTypes = map[TxType]ItemType{
	TxOTPLCancel:   ItemSend,
	TxOTPLWithdraw: ItemWithdraw,
	TxOTPLDeposit:  ItemSend,
	TxSend:         ItemSendDirect,
	TxReceive:      ItemReceive,
	TxClaim:        ItemClaim,
	TxReward:       ItemBonus,
	TxMint:         ItemReceive,
}

// ItemTypeFor returns the item type mapped from txType, or fallback when the
// tag has no mapping (errors and unknown receipts).
func ItemTypeFor(txType TxType, fallback ItemType) ItemType {
	if t, ok := txItemTypes[txType]; ok {
		return t
	}
	return fallback
}

// Direction names the receipt event field holding the counterparty.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionFrom Direction = "from"
	DirectionTo   Direction = "to"
)

// DirectionFor returns which side of a transfer is the counterparty for t.
func DirectionFor(t ItemType) Direction {
	switch t {
	case ItemClaim, ItemReceive, ItemWithdraw, ItemBonus:
		return DirectionFrom
	case ItemSendDirect, ItemSend:
		return DirectionTo
	}
	return DirectionNone
}

// Labels applied to records whose counterparty is a system contract.
const (
	RewardReason       = "Your recent earned rewards"
	RewardCounterParty = "GoodDollar"
	MintReason         = "Your Transferred G$s"
	MintCounterParty   = "Fuse Bridge"
)

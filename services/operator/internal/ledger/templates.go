package ledger

// Template and choice names as declared by the ledger's trading model.
const (
	TemplateOrder     = "Clob.Trading:Order"
	TemplateOrderBook = "Clob.Trading:OrderBook"
	TemplateTrade     = "Clob.Trading:Trade"
	TemplateBalance   = "Clob.Wallet:Balance"

	ChoiceMatchOrders = "MatchOrders"
	ChoiceMerge       = "Merge"

	ActionCreate   = "create"
	ActionExercise = "exercise"
)

type MatchArgument struct {
	BuyOrderID  string `json:"buyOrderId"`
	SellOrderID string `json:"sellOrderId"`
}

type MergeArgument struct {
	Asset string `json:"asset"`
}

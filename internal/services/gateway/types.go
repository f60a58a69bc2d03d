package gateway

import "fmt"

// IntentStatus is the provider-neutral state of a payment intent.
type IntentStatus string

const (
	// IntentAwaitingPayment covers every state before the buyer's card
	// has been authorized.
	IntentAwaitingPayment IntentStatus = "awaiting_payment"
	IntentAuthorized      IntentStatus = "authorized"
	IntentCaptured        IntentStatus = "captured"
	IntentCanceled        IntentStatus = "canceled"
	IntentUnknown         IntentStatus = "unknown"
)

// Mutating operations, used in idempotency keys and metrics labels.
const (
	OpAuthorize = "authorize"
	OpCapture   = "capture"
	OpCancel    = "cancel"
	OpRefund    = "refund"
	OpStatus    = "status"
	OpPayee     = "verify_payee"
)

// IdempotencyKey is stable for a (transaction, operation) pair.
func IdempotencyKey(transactionID, op string) string {
	return fmt.Sprintf("txn_%s_%s", transactionID, op)
}

type AuthorizeRequest struct {
	TransactionID string
	ListingID     string
	BuyerID       uint
	SellerID      uint
	Amount        int64
	PlatformFee   int64
	Currency      string
	PayeeAccount  string
	ReceiptEmail  string
}

// Intent is the provider's view of one payment.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       int64
	// TransferID is set once captured funds have been routed to the payee.
	TransferID string
}

package errors

var (
	ErrInvalidRequest       = newError(KindValidation, "INVALID_REQUEST", "request is malformed")
	ErrInvalidAmount        = newError(KindValidation, "INVALID_AMOUNT", "amount must be a positive number of minor units")
	ErrInvalidPickupAddress = newError(KindValidation, "INVALID_PICKUP_ADDRESS", "pickup address is required")
	ErrInvalidDisputeReason = newError(KindValidation, "INVALID_DISPUTE_REASON", "dispute reason is required")

	ErrListingUnavailable = newError(KindConflict, "LISTING_UNAVAILABLE", "listing is not available for purchase")
	ErrSelfPurchase       = newError(KindPrecondition, "SELF_PURCHASE", "sellers cannot buy their own listing")
	ErrSellerNotPayable   = newError(KindPrecondition, "SELLER_NOT_PAYABLE", "seller cannot receive payouts")
	ErrAmountMismatch     = newError(KindPrecondition, "AMOUNT_MISMATCH", "amount does not match the listing price")

	ErrTransactionNotFound   = newError(KindNotFound, "TRANSACTION_NOT_FOUND", "transaction not found")
	ErrNotPartyToTransaction = newError(KindForbidden, "NOT_PARTY_TO_TRANSACTION", "caller is not a party to this transaction")
	ErrNotBuyer              = newError(KindForbidden, "NOT_BUYER", "only the buyer can perform this action")
	ErrNotSeller             = newError(KindForbidden, "NOT_SELLER", "only the seller can perform this action")

	ErrPaymentNotAuthorized       = newError(KindPrecondition, "PAYMENT_NOT_AUTHORIZED", "payment has not been authorized")
	ErrInvalidStateForPickup      = newError(KindConflict, "INVALID_STATE_FOR_PICKUP", "pickup can only be scheduled after payment is authorized")
	ErrInvalidStateForHandoff     = newError(KindConflict, "INVALID_STATE_FOR_HANDOFF", "handoff can only be confirmed once pickup is scheduled")
	ErrInvalidStateForCompletion  = newError(KindConflict, "INVALID_STATE_FOR_COMPLETION", "pickup can only be completed once it is scheduled")
	ErrInvalidStateForPayout      = newError(KindConflict, "INVALID_STATE_FOR_PAYOUT", "only completed transactions can be paid out")
	ErrAlreadyTerminal            = newError(KindConflict, "ALREADY_TERMINAL", "transaction is already closed")
	ErrCaptureInProgress          = newError(KindConflict, "CAPTURE_IN_PROGRESS", "payment capture is in progress")
	ErrDuplicateActiveTransaction = newError(KindConflict, "DUPLICATE_ACTIVE_TRANSACTION", "listing already has an active transaction")
	ErrConcurrentUpdate           = newError(KindConflict, "CONCURRENT_UPDATE", "transaction changed concurrently, retry")

	ErrCaptureFailed = newError(KindPayment, "CAPTURE_FAILED", "payment capture failed")
	ErrGateway       = newError(KindGateway, "GATEWAY_ERROR", "payment provider request failed")

	ErrInvariantBreach = newError(KindInternal, "INVARIANT_BREACH", "ledger is inconsistent with the payment provider")
)

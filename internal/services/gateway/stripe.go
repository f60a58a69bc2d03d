package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/account"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/refund"
	"golang.org/x/time/rate"
)

type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type refundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type accountAPI interface {
	GetByID(id string, params *stripe.AccountParams) (*stripe.Account, error)
}

// StripeGateway implements Gateway with manual-capture destination charges.
type StripeGateway struct {
	intents  intentAPI
	refunds  refundAPI
	accounts accountAPI
	limiter  *rate.Limiter
}

// NewStripeGateway builds a client for the given secret key, pacing calls
// to rps requests per second.
func NewStripeGateway(secretKey string, rps int) *StripeGateway {
	backend := stripe.GetBackend(stripe.APIBackend)
	return newStripeGateway(
		&paymentintent.Client{B: backend, Key: secretKey},
		&refund.Client{B: backend, Key: secretKey},
		&account.Client{B: backend, Key: secretKey},
		rps,
	)
}

func newStripeGateway(intents intentAPI, refunds refundAPI, accounts accountAPI, rps int) *StripeGateway {
	if rps <= 0 {
		rps = 25
	}
	return &StripeGateway{
		intents:  intents,
		refunds:  refunds,
		accounts: accounts,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Intent, error) {
	if err := g.wait(ctx, OpAuthorize); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(req.Amount),
		Currency:             stripe.String(req.Currency),
		CaptureMethod:        stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		ApplicationFeeAmount: stripe.Int64(req.PlatformFee),
		PaymentMethodTypes:   stripe.StringSlice([]string{"card"}),
		TransferGroup:        stripe.String("txn_" + req.TransactionID),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.PayeeAccount),
		},
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(req.TransactionID, OpAuthorize))
	params.AddMetadata("transaction_id", req.TransactionID)
	params.AddMetadata("listing_id", req.ListingID)
	params.AddMetadata("buyer_id", strconv.FormatUint(uint64(req.BuyerID), 10))
	params.AddMetadata("seller_id", strconv.FormatUint(uint64(req.SellerID), 10))

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, classify(OpAuthorize, err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) Capture(ctx context.Context, transactionID, intentID string) (*Intent, error) {
	if err := g.wait(ctx, OpCapture); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(transactionID, OpCapture))

	pi, err := g.intents.Capture(intentID, params)
	if err != nil {
		return nil, classify(OpCapture, err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) CancelAuthorization(ctx context.Context, transactionID, intentID string) error {
	if err := g.wait(ctx, OpCancel); err != nil {
		return err
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("requested_by_customer"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(transactionID, OpCancel))

	if _, err := g.intents.Cancel(intentID, params); err != nil {
		return classify(OpCancel, err)
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, transactionID, intentID string) error {
	if err := g.wait(ctx, OpRefund); err != nil {
		return err
	}

	params := &stripe.RefundParams{
		PaymentIntent:        stripe.String(intentID),
		ReverseTransfer:      stripe.Bool(true),
		RefundApplicationFee: stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(transactionID, OpRefund))
	params.AddMetadata("transaction_id", transactionID)

	if _, err := g.refunds.New(params); err != nil {
		return classify(OpRefund, err)
	}
	return nil
}

func (g *StripeGateway) Status(ctx context.Context, intentID string) (*Intent, error) {
	if err := g.wait(ctx, OpStatus); err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("charges.data.transfer")

	pi, err := g.intents.Get(intentID, params)
	if err != nil {
		return nil, classify(OpStatus, err)
	}
	return toIntent(pi), nil
}

func (g *StripeGateway) VerifyPayee(ctx context.Context, accountID string) error {
	if err := g.wait(ctx, OpPayee); err != nil {
		return err
	}

	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := g.accounts.GetByID(accountID, params)
	if err != nil {
		return classify(OpPayee, err)
	}
	if !acct.PayoutsEnabled {
		return terminal(OpPayee, "payouts_disabled", fmt.Sprintf("account %s cannot receive payouts", accountID))
	}
	return nil
}

func (g *StripeGateway) wait(ctx context.Context, op string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return retryable(op, "rate limiter wait aborted", err)
	}
	return nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi.Status),
		Amount:       pi.Amount,
	}
	if pi.Charges != nil {
		for _, ch := range pi.Charges.Data {
			if ch != nil && ch.Transfer != nil && ch.Transfer.ID != "" {
				intent.TransferID = ch.Transfer.ID
				break
			}
		}
	}
	return intent
}

func intentStatus(s stripe.PaymentIntentStatus) IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusProcessing:
		return IntentAwaitingPayment
	case stripe.PaymentIntentStatusRequiresCapture:
		return IntentAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		return IntentCaptured
	case stripe.PaymentIntentStatusCanceled:
		return IntentCanceled
	default:
		return IntentUnknown
	}
}

// classify maps Stripe failures onto outcomes. Card declines and invalid
// requests will fail the same way again; throttling, idempotency conflicts,
// server errors and transport failures may not.
func classify(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return retryable(op, err.Error(), err)
	}

	outcome := OutcomeFailedTerminal
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode == http.StatusConflict,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.Type == stripe.ErrorTypeAPI:
		outcome = OutcomeFailedRetryable
	}

	return &Error{
		Op:      op,
		Outcome: outcome,
		Code:    string(stripeErr.Code),
		Message: stripeErr.Msg,
		Err:     err,
	}
}

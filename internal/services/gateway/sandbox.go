package gateway

import (
	"context"
	"fmt"
	"sync"
)

// SandboxGateway is an in-memory provider for local runs and tests. It
// honours idempotency keys the same way the real provider does and lets
// tests script failures.
type SandboxGateway struct {
	mu            sync.Mutex
	autoAuthorize bool
	intents       map[string]*sandboxIntent
	byKey         map[string]string
	payees        map[string]bool
	failures      map[string][]Outcome
	calls         map[string]int
	lostAuthorize int
	seq           int
}

type sandboxIntent struct {
	intent   Intent
	refunded bool
}

type SandboxOption func(*SandboxGateway)

// WithAutoAuthorize makes new intents immediately authorized, standing in
// for a buyer who completes card entry.
func WithAutoAuthorize() SandboxOption {
	return func(g *SandboxGateway) { g.autoAuthorize = true }
}

// WithPayees registers destination accounts that can receive transfers.
func WithPayees(accounts ...string) SandboxOption {
	return func(g *SandboxGateway) {
		for _, a := range accounts {
			g.payees[a] = true
		}
	}
}

func NewSandboxGateway(opts ...SandboxOption) *SandboxGateway {
	g := &SandboxGateway{
		intents:  make(map[string]*sandboxIntent),
		byKey:    make(map[string]string),
		payees:   make(map[string]bool),
		failures: make(map[string][]Outcome),
		calls:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FailNext queues a failure for the next call of op.
func (g *SandboxGateway) FailNext(op string, outcome Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], outcome)
}

// LoseNextAuthorize makes the next Authorize create its intent and then
// fail retryably, as a timeout after the provider applied the call does.
func (g *SandboxGateway) LoseNextAuthorize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lostAuthorize++
}

// Calls returns how many successful calls were made for op.
func (g *SandboxGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// ConfirmIntent simulates the buyer authorizing the card.
func (g *SandboxGateway) ConfirmIntent(intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("sandbox: unknown intent %s", intentID)
	}
	if in.intent.Status == IntentAwaitingPayment {
		in.intent.Status = IntentAuthorized
	}
	return nil
}

// ExpireIntent simulates the provider voiding an authorization.
func (g *SandboxGateway) ExpireIntent(intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[intentID]; ok && in.intent.Status != IntentCaptured {
		in.intent.Status = IntentCanceled
	}
}

// Refunded reports whether captured funds for the intent were returned.
func (g *SandboxGateway) Refunded(intentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	return ok && in.refunded
}

// IntentStatusOf returns the current sandbox state of an intent.
func (g *SandboxGateway) IntentStatusOf(intentID string) IntentStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[intentID]; ok {
		return in.intent.Status
	}
	return IntentUnknown
}

func (g *SandboxGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected(OpAuthorize); err != nil {
		return nil, err
	}
	key := IdempotencyKey(req.TransactionID, OpAuthorize)
	if id, ok := g.byKey[key]; ok {
		out := g.intents[id].intent
		return &out, nil
	}
	if req.Amount <= 0 || req.PlatformFee < 0 || req.PlatformFee > req.Amount {
		return nil, terminal(OpAuthorize, "amount_invalid", "invalid amount split")
	}
	if !g.payees[req.PayeeAccount] {
		return nil, terminal(OpAuthorize, "invalid_destination", "unknown destination account")
	}

	g.seq++
	status := IntentAwaitingPayment
	if g.autoAuthorize {
		status = IntentAuthorized
	}
	id := fmt.Sprintf("pi_sandbox_%d", g.seq)
	g.intents[id] = &sandboxIntent{intent: Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       status,
		Amount:       req.Amount,
	}}
	g.byKey[key] = id
	g.calls[OpAuthorize]++
	if g.lostAuthorize > 0 {
		g.lostAuthorize--
		return nil, retryable(OpAuthorize, "sandbox: response lost", nil)
	}

	out := g.intents[id].intent
	return &out, nil
}

func (g *SandboxGateway) Capture(ctx context.Context, transactionID, intentID string) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected(OpCapture); err != nil {
		return nil, err
	}
	in, ok := g.intents[intentID]
	if !ok {
		return nil, terminal(OpCapture, "resource_missing", "no such payment intent")
	}
	switch in.intent.Status {
	case IntentCaptured:
		// replay of an earlier capture
	case IntentAuthorized:
		in.intent.Status = IntentCaptured
		in.intent.TransferID = "tr_" + intentID
		g.calls[OpCapture]++
	default:
		return nil, terminal(OpCapture, "payment_intent_unexpected_state",
			fmt.Sprintf("cannot capture intent in state %s", in.intent.Status))
	}
	out := in.intent
	return &out, nil
}

func (g *SandboxGateway) CancelAuthorization(ctx context.Context, transactionID, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected(OpCancel); err != nil {
		return err
	}
	in, ok := g.intents[intentID]
	if !ok {
		return terminal(OpCancel, "resource_missing", "no such payment intent")
	}
	switch in.intent.Status {
	case IntentCanceled:
	case IntentCaptured:
		return terminal(OpCancel, "payment_intent_unexpected_state", "captured intents must be refunded")
	default:
		in.intent.Status = IntentCanceled
		g.calls[OpCancel]++
	}
	return nil
}

func (g *SandboxGateway) Refund(ctx context.Context, transactionID, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected(OpRefund); err != nil {
		return err
	}
	in, ok := g.intents[intentID]
	if !ok {
		return terminal(OpRefund, "resource_missing", "no such payment intent")
	}
	if in.intent.Status != IntentCaptured {
		return terminal(OpRefund, "charge_not_captured", "nothing to refund")
	}
	if !in.refunded {
		in.refunded = true
		g.calls[OpRefund]++
	}
	return nil
}

func (g *SandboxGateway) Status(ctx context.Context, intentID string) (*Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected(OpStatus); err != nil {
		return nil, err
	}
	in, ok := g.intents[intentID]
	if !ok {
		return nil, terminal(OpStatus, "resource_missing", "no such payment intent")
	}
	out := in.intent
	return &out, nil
}

func (g *SandboxGateway) VerifyPayee(ctx context.Context, accountID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.injected(OpPayee); err != nil {
		return err
	}
	if !g.payees[accountID] {
		return terminal(OpPayee, "account_invalid", "destination account cannot receive payouts")
	}
	return nil
}

// injected pops a scripted failure. Callers hold g.mu.
func (g *SandboxGateway) injected(op string) error {
	queue := g.failures[op]
	if len(queue) == 0 {
		return nil
	}
	outcome := queue[0]
	g.failures[op] = queue[1:]
	if outcome == OutcomeFailedRetryable {
		return retryable(op, "sandbox: injected transient failure", nil)
	}
	return terminal(op, "sandbox_declined", "sandbox: injected failure")
}

/*
Package escrow implements the purchase lifecycle for marketplace listings.

A purchase moves through these states:

	pending -> payment_authorized -> pickup_scheduled -> completed -> paid_out
	pending | payment_authorized | pickup_scheduled -> cancelled | disputed

Funds are only authorized at creation. They are captured when the buyer
confirms the pickup, and the authorization is released when the purchase is
cancelled.

Usage:

	svc := escrow.NewService(store, gw, cache, publisher, escrow.EscrowConfig{
	    FeeRateBps: 250,
	    Currency:   "usd",
	}, metrics)

	res, err := svc.CreateTransaction(ctx, buyerID, email, escrow.CreateTransactionRequest{
	    ListingID: "lst_1",
	    Amount:    12000,
	})

	tx, err := svc.SetPickupDetails(ctx, sellerID, res.Transaction.ID, escrow.PickupDetails{
	    Address: "123 Main St",
	})

	tx, err = svc.ConfirmPickupComplete(ctx, buyerID, tx.ID)

Concurrency:

No lock is held across gateway calls. Only one buyer can move a listing
from active to pending, and a partial unique index allows one active
transaction per listing. Every other transition is a conditional update
on the current status. A capture claim on the row keeps cancel and dispute
out while a capture is in flight.

Error Handling:

Errors are the DomainError values of the internal/errors package. Gateway
failures are wrapped so that both the DomainError and the *gateway.Error
can be matched with errors.Is and errors.As.
*/
package escrow

package errors

import "fmt"

// Kind groups domain errors by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPrecondition
	KindForbidden
	KindNotFound
	KindConflict
	KindPayment
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPayment:
		return "payment"
	case KindGateway:
		return "gateway"
	default:
		return "internal"
	}
}

// DomainError is a stable, client-facing error. Sentinels are compared with
// errors.Is, so wrap them with %w rather than copying.
type DomainError struct {
	Code    string
	Message string
	Kind    Kind
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(kind Kind, code, message string) *DomainError {
	return &DomainError{Code: code, Message: message, Kind: kind}
}

package event

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed body of an envelope. The set of implementations is
// closed to this package; Decode returns exactly one of them per Type.
type Payload interface {
	EventType() Type
	CorrelationID() string
	isPayload()
}

// OrderSnapshot is the order data carried from order creation to payment.
type OrderSnapshot struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	ItemCount     int     `json:"itemCount"`
}

// PaymentCommand asks the payment service to charge for an order.
// OrderID and ID both carry the order id so older consumers reading "id" keep working.
type PaymentCommand struct {
	TransactionID string  `json:"transactionId"`
	OrderID       string  `json:"orderId,omitempty"`
	ID            string  `json:"id,omitempty"`
	Amount        float64 `json:"amount"`
	ItemCount     int     `json:"itemCount,omitempty"`
}

// OrderRef returns the order id, preferring orderId over the legacy id field.
func (c PaymentCommand) OrderRef() string {
	if c.OrderID != "" {
		return c.OrderID
	}
	return c.ID
}

// Payment result statuses.
const (
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

// PaymentResult is the terminal outcome reported by the payment service.
type PaymentResult struct {
	TransactionID string  `json:"transactionId"`
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	Reason        string  `json:"reason,omitempty"`
}

// OrderOutcome is the orchestrator's decision addressed to the order service.
type OrderOutcome struct {
	TransactionID string  `json:"transactionId"`
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

type (
	OrderCreated struct {
		Data OrderSnapshot `json:"data"`
	}
	ExecutePayment struct {
		Data PaymentCommand `json:"data"`
	}
	PaymentCompleted      struct{ PaymentResult }
	PaymentFailed         struct{ PaymentResult }
	OrderPaymentCompleted struct{ OrderOutcome }
	OrderPaymentFailed    struct{ OrderOutcome }
	TransactionCompleted  struct{ OrderOutcome }
	TransactionFailed     struct{ OrderOutcome }

	// Unhandled carries the raw body of a routed type no service interprets.
	Unhandled struct {
		Kind Type
		Raw  json.RawMessage
	}
)

func (OrderCreated) EventType() Type          { return TypeOrderCreated }
func (ExecutePayment) EventType() Type        { return TypeExecutePayment }
func (PaymentCompleted) EventType() Type      { return TypePaymentCompleted }
func (PaymentFailed) EventType() Type         { return TypePaymentFailed }
func (OrderPaymentCompleted) EventType() Type { return TypeOrderPaymentCompleted }
func (OrderPaymentFailed) EventType() Type    { return TypeOrderPaymentFailed }
func (TransactionCompleted) EventType() Type  { return TypeTransactionCompleted }
func (TransactionFailed) EventType() Type     { return TypeTransactionFailed }
func (u Unhandled) EventType() Type           { return u.Kind }

func (p OrderCreated) CorrelationID() string   { return p.Data.TransactionID }
func (p ExecutePayment) CorrelationID() string { return p.Data.TransactionID }
func (p PaymentResult) CorrelationID() string  { return p.TransactionID }
func (p OrderOutcome) CorrelationID() string   { return p.TransactionID }
func (Unhandled) CorrelationID() string        { return "" }

func (OrderCreated) isPayload()          {}
func (ExecutePayment) isPayload()        {}
func (PaymentCompleted) isPayload()      {}
func (PaymentFailed) isPayload()         {}
func (OrderPaymentCompleted) isPayload() {}
func (OrderPaymentFailed) isPayload()    {}
func (TransactionCompleted) isPayload()  {}
func (TransactionFailed) isPayload()     {}
func (Unhandled) isPayload()             {}

// MarshalJSON writes the raw body back unchanged.
func (u Unhandled) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return []byte("null"), nil
	}
	return u.Raw, nil
}

// Decode returns the typed payload of env.
func Decode(env Envelope) (Payload, error) {
	var p Payload
	switch env.Type {
	case TypeOrderCreated:
		p = &OrderCreated{}
	case TypeExecutePayment:
		p = &ExecutePayment{}
	case TypePaymentCompleted:
		p = &PaymentCompleted{}
	case TypePaymentFailed:
		p = &PaymentFailed{}
	case TypeOrderPaymentCompleted:
		p = &OrderPaymentCompleted{}
	case TypeOrderPaymentFailed:
		p = &OrderPaymentFailed{}
	case TypeTransactionCompleted:
		p = &TransactionCompleted{}
	case TypeTransactionFailed:
		p = &TransactionFailed{}
	case TypeOrderPrepared, TypeOutOfStockOrder, TypePrepareOrder:
		return Unhandled{Kind: env.Type, Raw: env.Payload}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
		}
	}
	return deref(p), nil
}

// CorrelationID returns the transaction id of env, falling back to the
// envelope-level field when the payload does not carry one.
func CorrelationID(env Envelope, p Payload) string {
	if p != nil {
		if id := p.CorrelationID(); id != "" {
			return id
		}
	}
	return env.TransactionID
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *OrderCreated:
		return *v
	case *ExecutePayment:
		return *v
	case *PaymentCompleted:
		return *v
	case *PaymentFailed:
		return *v
	case *OrderPaymentCompleted:
		return *v
	case *OrderPaymentFailed:
		return *v
	case *TransactionCompleted:
		return *v
	case *TransactionFailed:
		return *v
	}
	return p
}

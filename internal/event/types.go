// Package event defines the saga's wire envelope, its closed set of event
// types and topics, and the typed payload carried by each event type.
package event

// Type identifies the business meaning of an envelope.
type Type string

const (
	TypeOrderCreated          Type = "ORDER_CREATED"
	TypeExecutePayment        Type = "EXECUTE_PAYMENT"
	TypePaymentCompleted      Type = "PAYMENT_COMPLETED_STATE"
	TypePaymentFailed         Type = "PAYMENT_FAILED_STATE"
	TypeOrderPaymentCompleted Type = "ORDER_PAYMENT_COMPLETED"
	TypeOrderPaymentFailed    Type = "ORDER_PAYMENT_FAILED"
	TypeTransactionCompleted  Type = "TRANSACTION_COMPLETED"
	TypeTransactionFailed     Type = "TRANSACTION_FAILED"

	// Stock reservation types have routes but no consumer.
	TypeOrderPrepared   Type = "ORDER_PREPARED"
	TypeOutOfStockOrder Type = "OUT_OF_STOCK_ORDER"
	TypePrepareOrder    Type = "PREPARE_ORDER"
)

var allTypes = []Type{
	TypeOrderCreated,
	TypeExecutePayment,
	TypePaymentCompleted,
	TypePaymentFailed,
	TypeOrderPaymentCompleted,
	TypeOrderPaymentFailed,
	TypeTransactionCompleted,
	TypeTransactionFailed,
	TypeOrderPrepared,
	TypeOutOfStockOrder,
	TypePrepareOrder,
}

// Types returns every known event type.
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

// Known reports whether t is one of the declared event types.
func (t Type) Known() bool {
	for _, known := range allTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t Type) String() string { return string(t) }

// Topic is a named channel on the publish/subscribe transport.
type Topic string

const (
	TopicOrderCreation Topic = "ORDER_CREATION_TRANSACTIONS"
	TopicOrchestrator  Topic = "ORCHESTATOR_SERVICE"
	TopicPayment       Topic = "PAYMENT_SERVICE"
	TopicOrder         Topic = "ORDER_SERVICE"
	TopicServiceReply  Topic = "SERVICE_REPLY"
	TopicStock         Topic = "STOCK_SERVICE"
)

var allTopics = []Topic{
	TopicOrderCreation,
	TopicOrchestrator,
	TopicPayment,
	TopicOrder,
	TopicServiceReply,
	TopicStock,
}

// Topics returns every known topic.
func Topics() []Topic {
	out := make([]Topic, len(allTopics))
	copy(out, allTopics)
	return out
}

func (t Topic) String() string { return string(t) }

// ServiceName maps a topic to the display name of the service that consumes it.
func (t Topic) ServiceName() string {
	switch t {
	case TopicOrder:
		return "Order Service"
	case TopicPayment:
		return "Payment Service"
	case TopicOrchestrator, TopicOrderCreation:
		return "Orchestrator Service"
	case TopicServiceReply:
		return "Service Reply"
	case TopicStock:
		return "Stock Service"
	}
	return string(t)
}

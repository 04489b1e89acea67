package router

import "ordersaga/internal/event"

// Table maps an event type to its destination topics.
type Table map[event.Type][]event.Topic

// DefaultTable is the saga's static routing table.
func DefaultTable() Table {
	return Table{
		event.TypeOrderCreated:          {event.TopicOrchestrator},
		event.TypePaymentFailed:         {event.TopicOrchestrator},
		event.TypePaymentCompleted:      {event.TopicOrchestrator},
		event.TypeOrderPrepared:         {event.TopicOrchestrator},
		event.TypeOutOfStockOrder:       {event.TopicOrchestrator},
		event.TypeExecutePayment:        {event.TopicPayment},
		event.TypePrepareOrder:          {event.TopicStock},
		event.TypeOrderPaymentCompleted: {event.TopicOrder},
		event.TypeOrderPaymentFailed:    {event.TopicOrder},
		event.TypeTransactionCompleted:  {event.TopicOrder},
		event.TypeTransactionFailed:     {event.TopicOrder},
	}
}

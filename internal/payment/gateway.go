// Package payment executes payment commands and reports exactly one outcome
// per command.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"ordersaga/internal/reliability"
)

// ErrDeclined is returned by a Gateway that refused the charge.
var ErrDeclined = errors.New("payment declined")

// DefaultSuccessRate is the approval probability of RandomGateway.
const DefaultSuccessRate = 0.8

// Command is a single charge request.
type Command struct {
	TransactionID string
	OrderID       string
	Amount        float64
}

// Gateway decides a charge. nil approves, ErrDeclined declines, any other
// error or panic is a processing exception.
type Gateway interface {
	Charge(ctx context.Context, cmd Command) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, cmd Command) error

func (f GatewayFunc) Charge(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// RandomGateway approves a fixed share of charges at random.
type RandomGateway struct {
	successRate float64
	roll        func() float64
}

// NewRandomGateway constructs a RandomGateway. A nil source uses math/rand/v2.
func NewRandomGateway(successRate float64, source func() float64) *RandomGateway {
	if successRate < 0 || successRate > 1 {
		successRate = DefaultSuccessRate
	}
	if source == nil {
		source = rand.Float64
	}
	return &RandomGateway{successRate: successRate, roll: source}
}

func (g *RandomGateway) Charge(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.roll() < g.successRate {
		return nil
	}
	return fmt.Errorf("%w: transaction %s", ErrDeclined, cmd.TransactionID)
}

// BreakerGateway guards a Gateway with a circuit breaker. Declines are
// business outcomes and do not count as breaker failures.
type BreakerGateway struct {
	next    Gateway
	breaker *reliability.CircuitBreaker
}

// NewBreakerGateway wraps next with breaker.
func NewBreakerGateway(next Gateway, breaker *reliability.CircuitBreaker) *BreakerGateway {
	return &BreakerGateway{next: next, breaker: breaker}
}

func (g *BreakerGateway) Charge(ctx context.Context, cmd Command) error {
	var declined error
	err := g.breaker.Execute(func() error {
		err := g.next.Charge(ctx, cmd)
		if errors.Is(err, ErrDeclined) {
			declined = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return declined
}

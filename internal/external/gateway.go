package external

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	GatewaySimulated = "simulated"
	GatewayHTTP      = "http"
)

// ChargeRequest is one payment attempt for a booking
type ChargeRequest struct {
	BookingID      string
	RequesterID    string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// ChargeResult is a definitive answer from the gateway. A declined charge is
// not an error; errors mean the gateway could not be asked.
type ChargeResult struct {
	Approved      bool
	TransactionID string
	DeclineReason string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

type PaymentConfig struct {
	Gateway     string        `mapstructure:"gateway"`
	SuccessRate float64       `mapstructure:"success_rate"`
	BaseURL     string        `mapstructure:"base_url"`
	TeamSlug    string        `mapstructure:"team_slug"`
	Password    string        `mapstructure:"password"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// NewGateway builds the gateway selected by cfg.Gateway
func NewGateway(cfg PaymentConfig) (Gateway, error) {
	switch cfg.Gateway {
	case "", GatewaySimulated:
		return NewSimulatedGateway(cfg.SuccessRate, rand.New(rand.NewSource(time.Now().UnixNano()))), nil
	case GatewayHTTP:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("payment gateway %q requires a base url", cfg.Gateway)
		}
		return NewHTTPGateway(cfg), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Gateway)
	}
}

var declineReasons = []string{
	"card declined by issuer",
	"insufficient funds",
	"card expired",
}

// SimulatedGateway approves a charge with probability successRate
type SimulatedGateway struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	successRate float64
}

func NewSimulatedGateway(successRate float64, rnd *rand.Rand) *SimulatedGateway {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}
	return &SimulatedGateway{rnd: rnd, successRate: successRate}
}

func (g *SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	roll := g.rnd.Float64()
	reason := declineReasons[g.rnd.Intn(len(declineReasons))]
	g.mu.Unlock()

	if roll < g.successRate {
		return &ChargeResult{Approved: true, TransactionID: "txn_" + uuid.New().String()}, nil
	}
	return &ChargeResult{DeclineReason: reason}, nil
}

package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"sniperforge/internal/config"
	"sniperforge/internal/pricing"
	"sniperforge/internal/trade"
)

type stubRouteClient struct {
	resp  routeResponse
	err   error
	calls int
	last  routeRequest
}

func (c *stubRouteClient) Quote(_ context.Context, req routeRequest) (routeResponse, error) {
	c.calls++
	c.last = req
	if c.err != nil {
		return routeResponse{}, c.err
	}
	return c.resp, nil
}

func routingConfig() config.RoutingConfig {
	return config.RoutingConfig{
		BaseURL:                "http://localhost",
		RequestTimeout:         time.Second,
		QuoteTTL:               600 * time.Millisecond,
		RouteDivergencePercent: 1.0,
		InputDecimals:          9,
		OutputDecimals:         6,
	}
}

func newTestBuilder(client routeClient) *Builder {
	return &Builder{cfg: routingConfig(), client: client, logger: zap.NewNop()}
}

func testRequest() trade.Request {
	return trade.NewRequest("wallet", "SOL", "USDC", 1.0, 1.0, 0.5)
}

func testConsensus(price float64) pricing.ConsensusPrice {
	return pricing.ConsensusPrice{
		Pair:       "SOL/USDC",
		Price:      price,
		Sources:    []string{"a", "b"},
		ComputedAt: time.Now(),
	}
}

func TestBuildQuote_HappyPath(t *testing.T) {
	client := &stubRouteClient{resp: routeResponse{
		OutputAmount:       150.2,
		PriceImpactPercent: 0.2,
		Hops:               2,
		Payload:            json.RawMessage(`{"outAmount":"150200000"}`),
	}}
	b := newTestBuilder(client)

	req := testRequest()
	q, err := b.BuildQuote(context.Background(), req, testConsensus(150.0))
	if err != nil {
		t.Fatalf("BuildQuote returned error: %v", err)
	}

	if q.ExpectedOutput != 150.2 {
		t.Errorf("unexpected expected output %f", q.ExpectedOutput)
	}
	if q.ConsensusAnchor != 150.0 {
		t.Errorf("expected consensus anchor 150.0, got %f", q.ConsensusAnchor)
	}
	if q.RouteHops != 2 {
		t.Errorf("expected 2 hops, got %d", q.RouteHops)
	}
	if got := q.ExpiresAt.Sub(q.BuiltAt); got != 600*time.Millisecond {
		t.Errorf("expected TTL 600ms, got %v", got)
	}
	if len(q.RoutePayload) == 0 {
		t.Errorf("expected route payload to be retained")
	}
	if client.last.SlippageBps != 100 {
		t.Errorf("expected slippageBps=100 for 1%% limit, got %d", client.last.SlippageBps)
	}
}

func TestBuildQuote_RejectsRouteDivergence(t *testing.T) {
	// 路由隐含价 140 对共识价 150 偏差约 6.7%，远超 1%
	client := &stubRouteClient{resp: routeResponse{OutputAmount: 140.0}}
	b := newTestBuilder(client)

	_, err := b.BuildQuote(context.Background(), testRequest(), testConsensus(150.0))
	if !errors.Is(err, ErrRouteDivergence) {
		t.Fatalf("expected ErrRouteDivergence, got %v", err)
	}
}

func TestBuildQuote_NoRouteWhenOutputZero(t *testing.T) {
	client := &stubRouteClient{resp: routeResponse{OutputAmount: 0}}
	b := newTestBuilder(client)

	_, err := b.BuildQuote(context.Background(), testRequest(), testConsensus(150.0))
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestBuildQuote_PropagatesProviderError(t *testing.T) {
	client := &stubRouteClient{err: fmt.Errorf("%w: http status 503", ErrProvider)}
	b := newTestBuilder(client)

	_, err := b.BuildQuote(context.Background(), testRequest(), testConsensus(150.0))
	if !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestBuildQuote_AlwaysCallsRouter(t *testing.T) {
	client := &stubRouteClient{resp: routeResponse{OutputAmount: 150.1}}
	b := newTestBuilder(client)

	for i := 0; i < 3; i++ {
		if _, err := b.BuildQuote(context.Background(), testRequest(), testConsensus(150.0)); err != nil {
			t.Fatalf("BuildQuote returned error: %v", err)
		}
	}
	if client.calls != 3 {
		t.Errorf("expected one router call per build, got %d", client.calls)
	}
}

func TestSwapQuote_Expired(t *testing.T) {
	now := time.Now()
	q := SwapQuote{BuiltAt: now, ExpiresAt: now.Add(600 * time.Millisecond)}

	if q.Expired(now.Add(100 * time.Millisecond)) {
		t.Errorf("quote should still be valid")
	}
	if !q.Expired(now.Add(700 * time.Millisecond)) {
		t.Errorf("quote should be expired")
	}
}

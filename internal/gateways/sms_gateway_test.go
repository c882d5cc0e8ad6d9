package gateway

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func TestProviderMetrics_RecordSuccess(t *testing.T) {
	metrics := NewProviderMetrics()

	metrics.RecordSuccess(100)
	metrics.RecordSuccess(200)

	assert.Equal(t, int64(2), metrics.TotalRequests.Load())
	assert.Equal(t, int64(2), metrics.SuccessfulReqs.Load())
	assert.Equal(t, int64(0), metrics.FailedReqs.Load())
	assert.Equal(t, float64(1.0), metrics.SuccessRate())
	assert.Equal(t, int64(150), metrics.AvgLatencyMs())
}

func TestProviderMetrics_RecordFailure(t *testing.T) {
	metrics := NewProviderMetrics()

	metrics.RecordSuccess(100)
	metrics.RecordFailure()
	metrics.RecordFailure()

	assert.Equal(t, int64(3), metrics.TotalRequests.Load())
	assert.Equal(t, int64(1), metrics.SuccessfulReqs.Load())
	assert.Equal(t, int64(2), metrics.FailedReqs.Load())
	assert.InDelta(t, 0.333, metrics.SuccessRate(), 0.01)
	assert.Equal(t, int32(2), metrics.ConsecutiveFails.Load())
}

func TestProviderMetrics_P95Latency(t *testing.T) {
	metrics := NewProviderMetrics()

	for i := int64(0); i < 100; i++ {
		metrics.RecordSuccess(i * 10)
	}

	p95 := metrics.P95LatencyMs()
	assert.GreaterOrEqual(t, p95, int64(900))
	assert.LessOrEqual(t, p95, int64(990))
}

func TestProvider_IsAvailable(t *testing.T) {
	client := &fasthttp.Client{}
	provider := NewProvider("test", "http://localhost:8080", 100, client)

	t.Run("healthy provider is available", func(t *testing.T) {
		provider.SetState(StateHealthy)
		assert.True(t, provider.IsAvailable())
	})

	t.Run("degraded provider is available", func(t *testing.T) {
		provider.SetState(StateDegraded)
		assert.True(t, provider.IsAvailable())
	})

	t.Run("unhealthy provider is not available", func(t *testing.T) {
		provider.SetState(StateUnhealthy)
		assert.False(t, provider.IsAvailable())
	})

	t.Run("circuit open provider becomes available after timeout", func(t *testing.T) {
		provider.SetState(StateCircuitOpen)
		provider.circuitOpenUntil.Store(time.Now().Add(-1 * time.Second).Unix())
		assert.True(t, provider.IsAvailable())
		assert.Equal(t, StateDegraded, provider.GetState())
	})

	t.Run("circuit open provider is not available before timeout", func(t *testing.T) {
		provider.SetState(StateCircuitOpen)
		provider.circuitOpenUntil.Store(time.Now().Add(10 * time.Second).Unix())
		assert.False(t, provider.IsAvailable())
	})
}

func TestProvider_CalculateScore(t *testing.T) {
	client := &fasthttp.Client{}
	provider := NewProvider("test", "http://localhost:8080", 100, client)

	t.Run("unavailable provider has zero score", func(t *testing.T) {
		provider.SetState(StateUnhealthy)
		score := provider.CalculateScore()
		assert.Equal(t, 0.0, score)
	})

	t.Run("healthy provider with good metrics", func(t *testing.T) {
		provider.SetState(StateHealthy)
		for i := 0; i < 10; i++ {
			provider.metrics.RecordSuccess(100)
		}
		score := provider.CalculateScore()
		assert.Greater(t, score, 0.0)
	})

	t.Run("degraded provider has reduced score", func(t *testing.T) {
		provider.SetState(StateDegraded)
		score := provider.CalculateScore()
		assert.Greater(t, score, 0.0)
		assert.Less(t, score, 100.0)
	})

	t.Run("consecutive failures reduce score", func(t *testing.T) {
		provider.SetState(StateHealthy)
		provider.metrics.ConsecutiveFails.Store(3)
		score := provider.CalculateScore()
		assert.Greater(t, score, 0.0)
		assert.Less(t, score, 100.0)
	})
}

func testGatewayConfig(providers ...ProviderConfig) *Config {
	return &Config{
		Providers:               providers,
		Timeout:                 5 * time.Second,
		MaxRetries:              1,
		RetryDelay:              time.Millisecond,
		MaxConns:                100,
		ReadBufferSize:          4096,
		WriteBufferSize:         4096,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		BulkWorkers:             4,
	}
}

func TestNewSMSGateway_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		g, err := NewSMSGateway(nil)
		assert.Error(t, err)
		assert.Nil(t, g)
		assert.Contains(t, err.Error(), "config is required")
	})

	t.Run("empty providers returns error", func(t *testing.T) {
		g, err := NewSMSGateway(testGatewayConfig())
		assert.Error(t, err)
		assert.Nil(t, g)
		assert.Contains(t, err.Error(), "at least one provider is required")
	})

	t.Run("valid config creates gateway", func(t *testing.T) {
		g, err := NewSMSGateway(testGatewayConfig(
			ProviderConfig{Name: "primary", URL: "http://localhost:8081", Weight: 100},
		))
		require.NoError(t, err)
		require.NotNil(t, g)
		assert.Len(t, g.providers, 1)

		g.Close()
	})
}

func TestSMSGateway_SelectBestProvider(t *testing.T) {
	g, err := NewSMSGateway(testGatewayConfig(
		ProviderConfig{Name: "primary", URL: "http://localhost:8081", Weight: 100},
		ProviderConfig{Name: "secondary", URL: "http://localhost:8082", Weight: 80},
		ProviderConfig{Name: "backup", URL: "http://localhost:8083", Weight: 60},
	))
	require.NoError(t, err)
	defer g.Close()

	t.Run("selects provider with highest score", func(t *testing.T) {
		provider, err := g.SelectBestProvider()
		assert.NoError(t, err)
		assert.NotNil(t, provider)
	})

	t.Run("returns error when all providers unavailable", func(t *testing.T) {
		for _, p := range g.providers {
			p.SetState(StateUnhealthy)
		}

		provider, err := g.SelectBestProvider()
		assert.Error(t, err)
		assert.Nil(t, provider)
		assert.Equal(t, ErrNoAvailableProviders, err)

		for _, p := range g.providers {
			p.SetState(StateHealthy)
		}
	})

	t.Run("skips unhealthy providers", func(t *testing.T) {
		g.providers[0].SetState(StateUnhealthy)

		provider, err := g.SelectBestProvider()
		assert.NoError(t, err)
		assert.NotNil(t, provider)
		assert.NotEqual(t, "primary", provider.name)

		g.providers[0].SetState(StateHealthy)
	})
}

func TestSMSGateway_CheckCircuitBreaker(t *testing.T) {
	cfg := testGatewayConfig(ProviderConfig{Name: "test", URL: "http://localhost:8081", Weight: 100})
	cfg.CircuitBreakerThreshold = 3

	g, err := NewSMSGateway(cfg)
	require.NoError(t, err)
	defer g.Close()

	provider := g.providers[0]

	t.Run("opens circuit after threshold failures", func(t *testing.T) {
		provider.metrics.ConsecutiveFails.Store(3)
		g.checkCircuitBreaker(provider)

		assert.Equal(t, StateCircuitOpen, provider.GetState())
		assert.Greater(t, provider.circuitOpenUntil.Load(), time.Now().Unix())
	})

	t.Run("does not open circuit below threshold", func(t *testing.T) {
		provider.SetState(StateHealthy)
		provider.metrics.ConsecutiveFails.Store(2)
		g.checkCircuitBreaker(provider)

		assert.NotEqual(t, StateCircuitOpen, provider.GetState())
	})
}

// fakeProvider serves the provider API over an in-memory listener; numbers in
// reject always fail.
func fakeProvider(t *testing.T, reject map[string]bool) *fasthttputil.InmemoryListener {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			var req SendRequest
			if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
				ctx.SetStatusCode(fasthttp.StatusBadRequest)
				return
			}

			resp := SendResponse{
				MessageID:   req.MessageID,
				Status:      StatusDelivered,
				OperatorID:  "fake",
				ProcessedAt: time.Now(),
			}
			if reject[req.PhoneNumber] {
				resp.Status = StatusFailed
				resp.ErrorMsg = "blocked number"
			}

			body, _ := json.Marshal(resp)
			ctx.SetContentType("application/json")
			ctx.SetBody(body)
		},
	}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { ln.Close() })

	return ln
}

func newInmemGateway(t *testing.T, ln *fasthttputil.InmemoryListener) *SMSGateway {
	t.Helper()

	g, err := NewSMSGateway(testGatewayConfig(
		ProviderConfig{Name: "fake", URL: "http://fake", Weight: 100},
	))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })

	g.providers[0].client = &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
	return g
}

func TestSMSGateway_SendBulk(t *testing.T) {
	ln := fakeProvider(t, map[string]bool{"+15550000002": true})
	g := newInmemGateway(t, ln)

	items := []BulkItem{
		{To: "+15550000001", Message: "hi", EventID: 10, GuestID: 1, MessageType: "announcement"},
		{To: "+15550000002", Message: "hi", EventID: 10, GuestID: 2, MessageType: "announcement"},
		{To: "+15550000003", Message: "hi", EventID: 10, GuestID: 3, MessageType: "announcement"},
	}

	result := g.SendBulk(context.Background(), "msg-77", items)

	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Results, 3)

	byGuest := make(map[int64]BulkItemResult)
	for _, r := range result.Results {
		byGuest[r.GuestID] = r
	}
	assert.NoError(t, byGuest[1].Err)
	assert.Equal(t, StatusDelivered, byGuest[1].Status)
	assert.Error(t, byGuest[2].Err)
	assert.Equal(t, StatusFailed, byGuest[2].Status)
	assert.NoError(t, byGuest[3].Err)
}

func TestSMSGateway_SendBulk_Empty(t *testing.T) {
	g, err := NewSMSGateway(testGatewayConfig(
		ProviderConfig{Name: "primary", URL: "http://localhost:8081", Weight: 100},
	))
	require.NoError(t, err)
	defer g.Close()

	result := g.SendBulk(context.Background(), "msg-1", nil)
	assert.Zero(t, result.Sent)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Results)
}

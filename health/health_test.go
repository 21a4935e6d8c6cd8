package health

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/CUXIDUMDUM/qpid/store"
	"github.com/CUXIDUMDUM/qpid/topology"
)

func fixed(name string, status Status) Checker {
	return NewCheckerFunc(name, func(context.Context) CheckResult {
		return CheckResult{Name: name, Status: status, Timestamp: time.Now()}
	})
}

func TestRegistry_Check(t *testing.T) {
	tt := []struct {
		Name     string
		Statuses []Status
		Expected Status
	}{
		{Name: "no checks is healthy", Expected: StatusHealthy},
		{Name: "all healthy", Statuses: []Status{StatusHealthy, StatusHealthy}, Expected: StatusHealthy},
		{Name: "one degraded check degrades", Statuses: []Status{StatusHealthy, StatusDegraded}, Expected: StatusDegraded},
		{Name: "unhealthy wins over degraded", Statuses: []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, Expected: StatusUnhealthy},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			r := NewRegistry()
			for i, s := range tc.Statuses {
				r.Register(fixed(string(rune('a'+i)), s))
			}
			report := r.Check(context.Background())
			assert.Equal(t, tc.Expected, report.Status)
			assert.Len(t, report.Checks, len(tc.Statuses))
		})
	}

	t.Run("unregistered checks are not run", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("store", StatusUnhealthy))
		r.Unregister("store")
		assert.Equal(t, StatusHealthy, r.Check(context.Background()).Status)
	})

	t.Run("metadata is reported", func(t *testing.T) {
		r := NewRegistry()
		r.SetMetadata("version", "1.0")
		assert.Equal(t, "1.0", r.Check(context.Background()).Metadata["version"])
	})

	t.Run("checks outliving the context are unhealthy", func(t *testing.T) {
		r := NewRegistry()
		release := make(chan struct{})
		defer close(release)
		r.Register(NewCheckerFunc("stuck", func(context.Context) CheckResult {
			<-release
			return CheckResult{Status: StatusHealthy}
		}))
		r.Register(fixed("quick", StatusHealthy))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		report := r.Check(ctx)

		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, "check timed out", report.Checks["stuck"].Message)
		assert.Equal(t, context.DeadlineExceeded.Error(), report.Checks["stuck"].Error)
	})
}

func TestHandler(t *testing.T) {
	get := func(h fasthttp.RequestHandler, method string) *fasthttp.RequestCtx {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.Header.SetMethod(method)
		h(ctx)
		return ctx
	}

	t.Run("healthy reports are served as json", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("store", StatusDegraded))
		ctx := get(Handler(r, time.Second), fasthttp.MethodGet)

		assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
		assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
		var report OverallHealth
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &report))
		assert.Equal(t, StatusDegraded, report.Status)
		assert.Contains(t, report.Checks, "store")
	})

	t.Run("unhealthy reports are served with 503", func(t *testing.T) {
		r := NewRegistry()
		r.Register(fixed("store", StatusUnhealthy))
		ctx := get(Handler(r, time.Second), fasthttp.MethodGet)
		assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	})

	t.Run("only GET is served", func(t *testing.T) {
		ctx := get(Handler(NewRegistry(), time.Second), fasthttp.MethodPost)
		assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	})

	t.Run("readiness follows the registry", func(t *testing.T) {
		r := NewRegistry()
		ctx := get(ReadinessHandler(r, time.Second), fasthttp.MethodGet)
		assert.Equal(t, "ready", string(ctx.Response.Body()))

		r.Register(fixed("store", StatusUnhealthy))
		ctx = get(ReadinessHandler(r, time.Second), fasthttp.MethodGet)
		assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	})

	t.Run("liveness always answers", func(t *testing.T) {
		ctx := get(LivenessHandler, fasthttp.MethodGet)
		assert.Equal(t, "alive", string(ctx.Response.Body()))
	})
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	t.Run("a readable store is healthy", func(t *testing.T) {
		s := store.NewMemoryStore()
		vh := topology.NewVirtualHost("/", topology.WithStore(s))
		_, err := vh.DeclareExchange(ctx, topology.ExchangeDeclaration{Name: "orders", Type: topology.ExchangeTopic, Durable: true})
		require.NoError(t, err)

		result := NewStoreChecker(s, 0, nil).Check(ctx)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, 1, result.Details["durable_exchanges"])
	})

	t.Run("a closed store is unhealthy", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.Close())

		result := NewStoreChecker(s, 0, nil).Check(ctx)
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, store.ErrClosed.Error(), result.Error)
	})

	t.Run("a virtual host reports its namespaces", func(t *testing.T) {
		vh := topology.NewVirtualHost("billing")
		_, _, err := vh.DeclareQueue(ctx, topology.QueueDeclaration{Name: "invoices"})
		require.NoError(t, err)

		c := NewVirtualHostChecker(vh)
		result := c.Check(ctx)
		assert.Equal(t, "vhost_billing", c.Name())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, len(topology.DefaultExchangeNames()), result.Details["exchanges"])
		assert.Equal(t, 1, result.Details["queues"])
	})

	t.Run("goroutine thresholds grade memory", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewMemoryChecker(1<<20, 1<<21).Check(ctx).Status)
		assert.Equal(t, StatusDegraded, NewMemoryChecker(0, 1<<20).Check(ctx).Status)
		assert.Equal(t, StatusUnhealthy, NewMemoryChecker(0, 0).Check(ctx).Status)
	})

	t.Run("component checkers report their function's result", func(t *testing.T) {
		c := NewComponentChecker("importer", func(context.Context) (Status, string, map[string]interface{}, error) {
			return StatusDegraded, "lagging", map[string]interface{}{"lag": 3}, assert.AnError
		})
		result := c.Check(ctx)
		assert.Equal(t, StatusDegraded, result.Status)
		assert.Equal(t, "lagging", result.Message)
		assert.Equal(t, 3, result.Details["lag"])
		assert.Equal(t, assert.AnError.Error(), result.Error)
	})
}

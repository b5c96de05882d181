package metric

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.RegisterCounter("test-service", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}

func TestMetricsRegistry_RegisterVectors(t *testing.T) {
	registry := NewMetricsRegistry()

	gauges := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gauges", Help: "g"}, []string{"l"})
	counters := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counters", Help: "c"}, []string{"l"})
	histograms := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histograms", Help: "h"}, []string{"l"})

	require.NoError(t, registry.RegisterGaugeVec("svc", "gauges", gauges))
	require.NoError(t, registry.RegisterCounterVec("svc", "counters", counters))
	require.NoError(t, registry.RegisterHistogramVec("svc", "histograms", histograms))

	gauges.WithLabelValues("a").Set(3)
	counters.WithLabelValues("a").Inc()
	histograms.WithLabelValues("a").Observe(0.5)

	names := gatheredNames(t, registry)
	assert.True(t, names["test_gauges"])
	assert.True(t, names["test_counters"])
	assert.True(t, names["test_histograms"])
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "First counter"})
	counter2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "First counter"})

	require.NoError(t, registry.RegisterCounter("service1", "duplicate_counter", counter1))

	err := registry.RegisterCounter("service1", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric registration")

	err = registry.RegisterCounter("service2", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_UnregisterMetric(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unregister_counter",
		Help: "A counter to unregister",
	})
	require.NoError(t, registry.RegisterCounter("test-service", "unregister_counter", counter))
	assert.True(t, gatheredNames(t, registry)["unregister_counter"])

	assert.True(t, registry.Unregister("test-service", "unregister_counter"))
	assert.False(t, gatheredNames(t, registry)["unregister_counter"])
	assert.False(t, registry.Unregister("test-service", "unregister_counter"))
}

func TestRegisterOrExisting_SharesVector(t *testing.T) {
	registry := NewMetricsRegistry()

	newVec := func() *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shared_total",
			Help: "Shared between environments",
		}, []string{"environment"})
	}

	first, err := RegisterOrExisting(registry, "replication", "shared", newVec())
	require.NoError(t, err)
	second, err := RegisterOrExisting(registry, "replication", "shared", newVec())
	require.NoError(t, err)
	assert.Same(t, first, second)

	first.WithLabelValues("dev").Inc()
	second.WithLabelValues("prod").Add(2)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.WithLabelValues("dev")))
	assert.Equal(t, 2.0, testutil.ToFloat64(first.WithLabelValues("prod")))
}

func TestRegisterOrExisting_TypeMismatch(t *testing.T) {
	registry := NewMetricsRegistry()

	_, err := RegisterOrExisting(registry, "svc", "m",
		prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "m_gauge", Help: "g"}, []string{"l"}))
	require.NoError(t, err)

	_, err = RegisterOrExisting(registry, "svc", "m",
		prometheus.NewCounterVec(prometheus.CounterOpts{Name: "m_counter", Help: "c"}, []string{"l"}))
	require.Error(t, err)
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	numGoroutines := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", id),
				Help: "A concurrent counter",
			})
			assert.NoError(t, registry.RegisterCounter("concurrent-service",
				fmt.Sprintf("concurrent_counter_%d", id), counter))
		}(i)
	}
	wg.Wait()

	count := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, numGoroutines, count)
}

func TestMetricsRegistrar_Interface(t *testing.T) {
	var registrar MetricsRegistrar = NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "interface_counter",
		Help: "Counter registered through interface",
	})
	require.NoError(t, registrar.RegisterCounter("interface-service", "interface_counter", counter))
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordEnvironmentStatus("dev", 2)
	core.RecordNATSStatus("dev", true)
	core.RecordNATSReconnect("dev")
	core.RecordCircuitBreakerState("dev", false)
	core.RecordError("replication", "transient")

	assert.Equal(t, 2.0, testutil.ToFloat64(core.EnvironmentStatus.WithLabelValues("dev")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSConnected.WithLabelValues("dev")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NATSReconnects.WithLabelValues("dev")))
	assert.Equal(t, 0.0, testutil.ToFloat64(core.NATSCircuitBreaker.WithLabelValues("dev")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ErrorsTotal.WithLabelValues("replication", "transient")))

	names := gatheredNames(t, registry)
	for _, expected := range []string{
		"galapagos_environment_status",
		"galapagos_nats_connected",
		"galapagos_nats_reconnects_total",
		"galapagos_nats_circuit_breaker",
		"galapagos_errors_total",
	} {
		assert.True(t, names[expected], "core metric %s should be gathered", expected)
	}
}

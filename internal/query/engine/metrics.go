package engine

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	qerrors "github.com/conduit-lang/namedquery/internal/query/errors"
)

// Metrics holds Prometheus metrics for query execution
type Metrics struct {
	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	rowsReturned  *prometheus.HistogramVec
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	templates     prometheus.GaugeFunc
	brokenHints   prometheus.GaugeFunc

	engine atomic.Pointer[Engine]
}

// NewMetrics creates the engine metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "namedquery",
				Subsystem: "engine",
				Name:      "queries_total",
				Help:      "Total number of named query calls",
			},
			[]string{"query", "op", "status"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "namedquery",
				Subsystem: "engine",
				Name:      "query_duration_seconds",
				Help:      "Named query call duration including fetch resolution",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"query", "op"},
		),
		rowsReturned: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "namedquery",
				Subsystem: "engine",
				Name:      "rows_returned",
				Help:      "Number of root rows returned per call",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"query", "op"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "namedquery",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Result cache hits",
			},
			[]string{"query"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "namedquery",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Result cache misses",
			},
			[]string{"query"},
		),
	}

	m.templates = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "namedquery",
			Subsystem: "templates",
			Name:      "compiled",
			Help:      "Number of compiled templates held in the cache",
		},
		func() float64 {
			if e := m.engine.Load(); e != nil {
				return float64(e.compiler.Len())
			}
			return 0
		},
	)
	m.brokenHints = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "namedquery",
			Subsystem: "hints",
			Name:      "broken",
			Help:      "Number of hint definitions disabled after failed resolution",
		},
		func() float64 {
			if e := m.engine.Load(); e != nil {
				return float64(e.hints.BrokenCount())
			}
			return 0
		},
	)

	for _, c := range []prometheus.Collector{
		m.queriesTotal, m.queryDuration, m.rowsReturned,
		m.cacheHits, m.cacheMisses, m.templates, m.brokenHints,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) bind(e *Engine) {
	if m != nil {
		m.engine.Store(e)
	}
}

func (m *Metrics) observe(query, op string, start time.Time, rows int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		kind, _ := qerrors.KindOf(err)
		status = kind.String()
	}
	m.queriesTotal.WithLabelValues(query, op, status).Inc()
	m.queryDuration.WithLabelValues(query, op).Observe(time.Since(start).Seconds())
	if err == nil {
		m.rowsReturned.WithLabelValues(query, op).Observe(float64(rows))
	}
}

func (m *Metrics) cacheResult(query string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.WithLabelValues(query).Inc()
	} else {
		m.cacheMisses.WithLabelValues(query).Inc()
	}
}

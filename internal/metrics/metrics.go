package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "fxcalbot/pkg/logx"
)

// Counters shared across the core. Registered on the default registry so any
// component can increment without plumbing a handle around.
var (
	FeedFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fxcal",
		Name:      "feed_fetches_total",
		Help:      "Upstream feed fetch results by outcome",
	}, []string{"outcome"})

	CacheServes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fxcal",
		Name:      "cache_serves_total",
		Help:      "get_events resolutions by path (hit/rebuild/fetch/stale/empty)",
	}, []string{"path"})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fxcal",
		Name:      "deliveries_total",
		Help:      "Notification deliveries by kind and outcome",
	}, []string{"kind", "outcome"})

	TickDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "fxcal",
		Name:      "scheduler_tick_seconds",
		Help:      "Time spent per scheduler tick",
	})
)

func init() {
	prometheus.MustRegister(FeedFetches, CacheServes, Deliveries, TickDuration)
}

// Server exposes /metrics. Optional; disabled by default.
type Server struct {
	srv *http.Server
	log logx.Logger
}

func NewServer(addr string, log logx.Logger) *Server {
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Start() {
	go func() {
		s.log.Info("metrics listening", logx.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("metrics server stopped", logx.Err(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

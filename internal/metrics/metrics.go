package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceboard_sessions_opened_total",
			Help: "Total voice sessions opened",
		},
		[]string{"space"},
	)

	SessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceboard_sessions_closed_total",
			Help: "Total voice sessions closed and folded into the store",
		},
		[]string{"space"},
	)

	SecondsCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceboard_seconds_credited_total",
			Help: "Voice seconds credited toward totals after daily capping",
		},
		[]string{"space"},
	)

	SecondsCapped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceboard_seconds_capped_total",
			Help: "Voice seconds dropped because the daily cap was reached",
		},
		[]string{"space"},
	)

	// Crash recovery metrics
	SessionsRestored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voiceboard_sessions_restored_total",
			Help: "Stale sessions folded and reopened during crash recovery",
		},
	)

	SessionsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voiceboard_sessions_discarded_total",
			Help: "Stale sessions cleared without credit during crash recovery",
		},
	)

	// Rank synchronization metrics
	SyncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceboard_sync_passes_total",
			Help: "Rank synchronization passes",
		},
		[]string{"space", "trigger"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voiceboard_sync_duration_seconds",
			Help:    "Rank synchronization pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RankChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceboard_rank_changes_total",
			Help: "Users whose rank changed between synchronization passes",
		},
		[]string{"space"},
	)

	RoleMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceboard_role_mutations_total",
			Help: "Tier role add/remove operations issued",
		},
		[]string{"space", "op"},
	)

	RoleSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceboard_role_skips_total",
			Help: "Tier role assignments skipped",
		},
		[]string{"space", "reason"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsOpened,
		SessionsClosed,
		SecondsCredited,
		SecondsCapped,
		SessionsRestored,
		SessionsDiscarded,
		SyncPasses,
		SyncDuration,
		RankChanges,
		RoleMutations,
		RoleSkips,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}

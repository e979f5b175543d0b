// Package monitoring exposes client metrics over HTTP.
package monitoring

import (
	"context"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mteguhsat/aetros-cli/config"
	"github.com/mteguhsat/aetros-cli/logger"
)

type PrometheusServer struct {
	listen   string
	gatherer prometheus.Gatherer
}

func NewPrometheusServerFromConfig(in *config.PrometheusMonitoring, gatherer prometheus.Gatherer) (*PrometheusServer, error) {
	if _, _, err := net.SplitHostPort(in.Listen); err != nil {
		return nil, errors.Wrapf(err, "invalid listen address %q", in.Listen)
	}
	return &PrometheusServer{in.Listen, gatherer}, nil
}

// Listen binds the listener so that address errors surface before Serve.
func (s *PrometheusServer) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.listen)
}

// Serve handles /metrics on l until ctx is done.
func (s *PrometheusServer) Serve(ctx context.Context, log logger.Logger, l net.Listener) {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	err := http.Serve(l, mux)
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Error("error while serving")
	}
}

// StartFromConfig starts one server per prometheus monitoring entry.
func StartFromConfig(ctx context.Context, log logger.Logger, in []config.MonitoringEnum, gatherer prometheus.Gatherer) error {
	for i, m := range in {
		switch v := m.Ret.(type) {
		case *config.PrometheusMonitoring:
			s, err := NewPrometheusServerFromConfig(v, gatherer)
			if err != nil {
				return errors.Wrapf(err, "monitoring #%d", i)
			}
			l, err := s.Listen()
			if err != nil {
				return errors.Wrapf(err, "monitoring #%d: cannot listen", i)
			}
			log.WithField("addr", l.Addr().String()).Info("serving metrics")
			go s.Serve(ctx, log, l)
		default:
			return errors.Errorf("monitoring #%d: unknown type %T", i, v)
		}
	}
	return nil
}

type LogOutlet struct {
	entries *prometheus.CounterVec
}

var _ logger.Outlet = (*LogOutlet)(nil)

// NewLogOutlet returns an outlet that counts log entries per level.
func NewLogOutlet() *LogOutlet {
	return &LogOutlet{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aetros",
			Subsystem: "client",
			Name:      "log_entries",
			Help:      "number of log entries per level",
		}, []string{"level"}),
	}
}

func (o *LogOutlet) RegisterMetrics(r prometheus.Registerer) error {
	return r.Register(o.entries)
}

func (o *LogOutlet) WriteEntry(entry logger.Entry) error {
	o.entries.WithLabelValues(entry.Level.String()).Inc()
	return nil
}

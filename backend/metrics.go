package backend

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	messagesSent     *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	connectionErrors *prometheus.CounterVec
	connectionTries  prometheus.Counter
	queueLength      *prometheus.GaugeVec
	writeThroughput  prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{}
	m.messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aetros",
		Subsystem: "stream",
		Name:      "messages_sent_total",
		Help:      "number of queued messages transmitted completely",
	}, []string{"channel"})
	m.bytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aetros",
		Subsystem: "stream",
		Name:      "bytes_sent_total",
		Help:      "number of payload bytes written to the transport",
	}, []string{"channel"})
	m.bytesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aetros",
		Subsystem: "stream",
		Name:      "bytes_received_total",
		Help:      "number of bytes read from the transport",
	}, []string{"channel"})
	m.connectionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aetros",
		Subsystem: "stream",
		Name:      "connection_errors_total",
		Help:      "number of connection errors that were reported",
	}, []string{"channel"})
	m.connectionTries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aetros",
		Subsystem: "stream",
		Name:      "connection_tries_total",
		Help:      "number of failed connection attempts",
	})
	m.queueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "aetros",
		Subsystem: "stream",
		Name:      "queue_length",
		Help:      "number of messages waiting to be sent",
	}, []string{"channel"})
	m.writeThroughput = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aetros",
		Subsystem: "stream",
		Name:      "write_throughput_bytes_per_second",
		Help:      "mean write speed over the chunks of one message",
		Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
	})
	return m
}

// RegisterMetrics registers the client's stream metrics with r.
func (c *Client) RegisterMetrics(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{
		c.metrics.messagesSent,
		c.metrics.bytesSent,
		c.metrics.bytesReceived,
		c.metrics.connectionErrors,
		c.metrics.connectionTries,
		c.metrics.queueLength,
		c.metrics.writeThroughput,
	} {
		if err := r.Register(col); err != nil {
			return err
		}
	}
	return nil
}

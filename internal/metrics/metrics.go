package metrics

import (
	"github.com/modfin/utskick/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"
)

type Config struct {
	PushURL string
	Job     string
}

// Metrics pushes batch outcome counters to a pushgateway after a run. A nil
// receiver is a no-op so callers never have to branch on configuration.
type Metrics struct {
	pusher *push.Pusher
	log    *logrus.Logger

	emailsSent    prometheus.Counter
	emailsFailed  prometheus.Counter
	probeVerdicts *prometheus.CounterVec
	quotaSent     prometheus.Gauge
}

func New(cfg Config, lc *tools.Logger) *Metrics {
	if cfg.PushURL == "" {
		return nil
	}

	reg := prometheus.NewRegistry()
	m := &Metrics{
		log: lc.New("metrics"),
		emailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "utskick_emails_sent_total",
			Help: "Number of emails successfully handed to the sender api.",
		}),
		emailsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "utskick_emails_failed_total",
			Help: "Number of records that ended a run as failed.",
		}),
		probeVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "utskick_probe_verdicts_total",
			Help: "Deliverability probe outcomes by verdict.",
		}, []string{"verdict"}),
		quotaSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "utskick_quota_sent_today",
			Help: "Emails counted against todays quota.",
		}),
	}
	reg.MustRegister(m.emailsSent, m.emailsFailed, m.probeVerdicts, m.quotaSent)

	m.pusher = push.New(cfg.PushURL, cfg.Job).Gatherer(reg)
	return m
}

func (m *Metrics) Sent(n int) {
	if m == nil {
		return
	}
	m.emailsSent.Add(float64(n))
}

func (m *Metrics) Failed(n int) {
	if m == nil {
		return
	}
	m.emailsFailed.Add(float64(n))
}

func (m *Metrics) Verdict(verdict string) {
	if m == nil {
		return
	}
	m.probeVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) QuotaSent(n int) {
	if m == nil {
		return
	}
	m.quotaSent.Set(float64(n))
}

// Push flushes the counters after a run, best effort.
func (m *Metrics) Push() {
	if m == nil {
		return
	}
	if err := m.pusher.Push(); err != nil {
		m.log.WithError(err).Error("failed to push metrics")
	}
}

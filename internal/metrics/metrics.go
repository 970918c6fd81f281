// Package metrics 会话的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "supervisor"

// Recorder 会话指标；nil Recorder 的所有方法都是空操作
type Recorder struct {
	vitalsApplied    prometheus.Counter
	vitalsRejected   *prometheus.CounterVec
	alertsAccepted   prometheus.Counter
	alertsDuplicate  prometheus.Counter
	resets           prometheus.Counter
	streamReconnects prometheus.Counter
	refreshFailures  prometheus.Counter
	statusChanges    *prometheus.CounterVec
	rosterSize       prometheus.Gauge
	unackCritical    prometheus.Gauge
	refreshLatency   prometheus.Histogram
}

// NewRecorder 创建并注册指标（reg 为空时使用默认注册表）
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		vitalsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vitals_applied_total",
			Help:      "Vital updates merged into the roster.",
		}),
		vitalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vitals_rejected_total",
			Help:      "Vital updates rejected by validation, by reason.",
		}, []string{"reason"}),
		alertsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_accepted_total",
			Help:      "Stream alerts inserted into the alert list.",
		}),
		alertsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_duplicate_total",
			Help:      "Stream alerts ignored because the id was already present.",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_resets_total",
			Help:      "Daily resets of derived state.",
		}),
		streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_disconnects_total",
			Help:      "Event stream disconnects followed by a reconnect attempt.",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_refresh_failures_total",
			Help:      "Snapshot loads that failed and kept the previous state.",
		}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_changes_total",
			Help:      "Employee status transitions, by new status.",
		}, []string{"status"}),
		rosterSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "roster_size",
			Help:      "Employees in the current roster.",
		}),
		unackCritical: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unacknowledged_critical_alerts",
			Help:      "Critical alerts not yet acknowledged.",
		}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_refresh_seconds",
			Help:      "Time spent loading a snapshot from the Data Service.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}

	reg.MustRegister(
		r.vitalsApplied, r.vitalsRejected, r.alertsAccepted, r.alertsDuplicate,
		r.resets, r.streamReconnects, r.refreshFailures, r.statusChanges,
		r.rosterSize, r.unackCritical, r.refreshLatency,
	)
	return r
}

func (r *Recorder) VitalApplied() {
	if r != nil {
		r.vitalsApplied.Inc()
	}
}

func (r *Recorder) VitalRejected(reason string) {
	if r != nil {
		r.vitalsRejected.WithLabelValues(reason).Inc()
	}
}

func (r *Recorder) AlertAccepted() {
	if r != nil {
		r.alertsAccepted.Inc()
	}
}

func (r *Recorder) AlertDuplicate() {
	if r != nil {
		r.alertsDuplicate.Inc()
	}
}

func (r *Recorder) ResetFired() {
	if r != nil {
		r.resets.Inc()
	}
}

func (r *Recorder) StreamDisconnected() {
	if r != nil {
		r.streamReconnects.Inc()
	}
}

func (r *Recorder) RefreshFailed() {
	if r != nil {
		r.refreshFailures.Inc()
	}
}

func (r *Recorder) StatusChanged(status string) {
	if r != nil {
		r.statusChanges.WithLabelValues(status).Inc()
	}
}

func (r *Recorder) ObserveRefresh(seconds float64) {
	if r != nil {
		r.refreshLatency.Observe(seconds)
	}
}

func (r *Recorder) SetRosterSize(n int) {
	if r != nil {
		r.rosterSize.Set(float64(n))
	}
}

func (r *Recorder) SetUnacknowledgedCritical(n int) {
	if r != nil {
		r.unackCritical.Set(float64(n))
	}
}

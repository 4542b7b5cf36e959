package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

// Metrics 中继运行指标；nil 接收者上的方法都是空操作，测试里可以不注入
type Metrics struct {
	Connections        prometheus.Gauge
	FramesIn           *prometheus.CounterVec
	FramesOut          *prometheus.CounterVec
	MessagesPersisted  prometheus.Counter
	PersistFailures    prometheus.Counter
	DeliveriesDropped  prometheus.Counter
	CacheRefreshes     *prometheus.CounterVec
	ReceiptsProcessed  prometheus.Counter
	TypingExpirations  prometheus.Counter
	MembershipInvalids prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Currently registered connections.",
		}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_in_total",
			Help: "Inbound frames by type.",
		}, []string{"type"}),
		FramesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_out_total",
			Help: "Outbound frames queued by type.",
		}, []string{"type"}),
		MessagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_persisted_total",
			Help: "Messages stored and broadcast.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "persist_failures_total",
			Help: "Storage calls that failed.",
		}),
		DeliveriesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_dropped_total",
			Help: "Frames dropped because the recipient was offline or its queue was full.",
		}),
		CacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "membership_refreshes_total",
			Help: "Membership cache refreshes by result.",
		}, []string{"result"}),
		ReceiptsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "read_receipts_total",
			Help: "Read receipt batches applied.",
		}),
		TypingExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "typing_expirations_total",
			Help: "Typing indicators stopped by the expiry timer.",
		}),
		MembershipInvalids: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "membership_invalidations_total",
			Help: "Membership change notifications received.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Connections, m.FramesIn, m.FramesOut, m.MessagesPersisted, m.PersistFailures,
			m.DeliveriesDropped, m.CacheRefreshes, m.ReceiptsProcessed, m.TypingExpirations,
			m.MembershipInvalids,
		)
	}
	return m
}

func (m *Metrics) ConnectionsSet(n int) {
	if m != nil {
		m.Connections.Set(float64(n))
	}
}

func (m *Metrics) FrameIn(kind string) {
	if m != nil {
		m.FramesIn.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) FrameOut(kind string) {
	if m != nil {
		m.FramesOut.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) MessagePersisted() {
	if m != nil {
		m.MessagesPersisted.Inc()
	}
}

func (m *Metrics) PersistFailed() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) DeliveryDropped() {
	if m != nil {
		m.DeliveriesDropped.Inc()
	}
}

func (m *Metrics) CacheRefresh(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.CacheRefreshes.WithLabelValues("ok").Inc()
	} else {
		m.CacheRefreshes.WithLabelValues("error").Inc()
	}
}

func (m *Metrics) ReceiptProcessed() {
	if m != nil {
		m.ReceiptsProcessed.Inc()
	}
}

func (m *Metrics) TypingExpired() {
	if m != nil {
		m.TypingExpirations.Inc()
	}
}

func (m *Metrics) MembershipInvalidated() {
	if m != nil {
		m.MembershipInvalids.Inc()
	}
}

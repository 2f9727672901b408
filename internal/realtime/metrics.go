package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Connections     prometheus.Gauge
	EventsDelivered *prometheus.CounterVec
	Joins           prometheus.Counter
	RejectedJoins   prometheus.Counter
	Resumes         prometheus.Counter
	OnlineUsers     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hivedesk",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Currently attached websocket connections.",
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivedesk",
			Subsystem: "realtime",
			Name:      "events_delivered_total",
			Help:      "Events handed to connection send queues.",
		}, []string{"event"}),
		Joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivedesk",
			Subsystem: "realtime",
			Name:      "room_joins_total",
			Help:      "Accepted room joins, including reconnect replays.",
		}),
		RejectedJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivedesk",
			Subsystem: "realtime",
			Name:      "room_joins_rejected_total",
			Help:      "Joins refused by tenant scoping.",
		}),
		Resumes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivedesk",
			Subsystem: "realtime",
			Name:      "connection_resumes_total",
			Help:      "Reconnects that replayed a prior room set.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hivedesk",
			Subsystem: "realtime",
			Name:      "presence_online_users",
			Help:      "Users currently considered online.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.EventsDelivered, m.Joins, m.RejectedJoins, m.Resumes, m.OnlineUsers)
	}
	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wsbridge"

// otherTopicLabel is the topic label of every topic outside the tracked set
const otherTopicLabel = "other"

// Metrics prometheus instrumentation of the gateway
//
// Metrics satisfies both broker.Observer and bridge.Observer.
type Metrics struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	clientMessages   *prometheus.CounterVec
	framesDropped    prometheus.Counter
	brokerConnected  prometheus.Gauge
	brokerPublishes  *prometheus.CounterVec
	brokerDeliveries *prometheus.CounterVec
	trackedTopics    map[string]bool
}

// NewMetrics define and register the gateway metrics
//
// Only the topics in trackedTopics get their own topic label value; the rest share
// the "other" label, so client supplied topic names can not grow the series count.
func NewMetrics(reg prometheus.Registerer, trackedTopics []string) (*Metrics, error) {
	m := &Metrics{
		trackedTopics: make(map[string]bool, len(trackedTopics)),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_sessions_active",
			Help:      "Number of open WebSocket sessions",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_sessions_total",
			Help:      "Number of WebSocket sessions opened",
		}),
		clientMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_total",
			Help:      "Inbound WebSocket messages by outcome",
		}, []string{"result"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_frames_dropped_total",
			Help:      "Outbound frames dropped because a session send queue was full",
		}),
		brokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "Broker producer session state (1 = connected)",
		}),
		brokerPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publishes_total",
			Help:      "Records published to the broker by topic and result",
		}, []string{"topic", "result"}),
		brokerDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_deliveries_total",
			Help:      "Records delivered by the broker by topic and result",
		}, []string{"topic", "result"}),
	}

	collectors := []prometheus.Collector{
		m.sessionsActive,
		m.sessionsTotal,
		m.clientMessages,
		m.framesDropped,
		m.brokerConnected,
		m.brokerPublishes,
		m.brokerDeliveries,
	}
	for _, topic := range trackedTopics {
		m.trackedTopics[topic] = true
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) topicLabel(topic string) string {
	if m.trackedTopics[topic] {
		return topic
	}
	return otherTopicLabel
}

// RecordPublish count one publish attempt
func (m *Metrics) RecordPublish(topic string, err error) {
	m.brokerPublishes.WithLabelValues(m.topicLabel(topic), resultLabel(err)).Inc()
}

// RecordDelivery count one record handed to a consumer handler
func (m *Metrics) RecordDelivery(topic string, err error) {
	m.brokerDeliveries.WithLabelValues(m.topicLabel(topic), resultLabel(err)).Inc()
}

// RecordConnectionState track the broker producer session state
func (m *Metrics) RecordConnectionState(connected bool) {
	if connected {
		m.brokerConnected.Set(1)
	} else {
		m.brokerConnected.Set(0)
	}
}

// SessionOpened count a new WebSocket session
func (m *Metrics) SessionOpened() {
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

// SessionClosed count a closed WebSocket session
func (m *Metrics) SessionClosed() {
	m.sessionsActive.Dec()
}

// RecordClientMessage count one inbound WebSocket message
func (m *Metrics) RecordClientMessage(result string) {
	m.clientMessages.WithLabelValues(result).Inc()
}

// RecordDroppedFrame count one dropped outbound frame
func (m *Metrics) RecordDroppedFrame() {
	m.framesDropped.Inc()
}

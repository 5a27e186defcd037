package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics(t *testing.T) {
	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, nil)
	assert.Nil(err)
	assert.NotNil(m)

	// Registering twice on one registry fails
	_, err = NewMetrics(reg, nil)
	assert.NotNil(err)
}

func TestMetricsBrokerOutcomes(t *testing.T) {
	assert := assert.New(t)

	m, err := NewMetrics(prometheus.NewRegistry(), []string{"messages", "notifications"})
	assert.Nil(err)

	m.RecordPublish("messages", nil)
	m.RecordPublish("messages", nil)
	m.RecordPublish("messages", fmt.Errorf("dummy error"))
	assert.Equal(2.0, testutil.ToFloat64(m.brokerPublishes.WithLabelValues("messages", "success")))
	assert.Equal(1.0, testutil.ToFloat64(m.brokerPublishes.WithLabelValues("messages", "error")))

	m.RecordDelivery("notifications", nil)
	assert.Equal(1.0, testutil.ToFloat64(m.brokerDeliveries.WithLabelValues("notifications", "success")))

	m.RecordConnectionState(true)
	assert.Equal(1.0, testutil.ToFloat64(m.brokerConnected))
	m.RecordConnectionState(false)
	assert.Equal(0.0, testutil.ToFloat64(m.brokerConnected))
}

func TestMetricsSessions(t *testing.T) {
	assert := assert.New(t)

	m, err := NewMetrics(prometheus.NewRegistry(), []string{"messages", "notifications"})
	assert.Nil(err)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	assert.Equal(1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(2.0, testutil.ToFloat64(m.sessionsTotal))

	m.RecordClientMessage("published")
	m.RecordClientMessage("parse_error")
	m.RecordClientMessage("parse_error")
	assert.Equal(2.0, testutil.ToFloat64(m.clientMessages.WithLabelValues("parse_error")))

	m.RecordDroppedFrame()
	assert.Equal(1.0, testutil.ToFloat64(m.framesDropped))
}

func TestMetricsTopicLabelBounded(t *testing.T) {
	assert := assert.New(t)

	m, err := NewMetrics(prometheus.NewRegistry(), []string{"messages"})
	assert.Nil(err)

	for itr := 0; itr < 300; itr++ {
		m.RecordPublish(fmt.Sprintf("junk-%d/../é %d", itr, itr), nil)
	}
	m.RecordPublish("messages", nil)
	m.RecordDelivery("audit", fmt.Errorf("dummy error"))

	assert.Equal(2, testutil.CollectAndCount(m.brokerPublishes))
	assert.Equal(300.0, testutil.ToFloat64(m.brokerPublishes.WithLabelValues("other", "success")))
	assert.Equal(1.0, testutil.ToFloat64(m.brokerPublishes.WithLabelValues("messages", "success")))
	assert.Equal(1, testutil.CollectAndCount(m.brokerDeliveries))
	assert.Equal(1.0, testutil.ToFloat64(m.brokerDeliveries.WithLabelValues("other", "error")))
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("slots", "2xx")
	})

	before := testutil.ToFloat64(bookings.WithLabelValues("created"))
	IncBooking("created")
	assert.Equal(t, before+1, testutil.ToFloat64(bookings.WithLabelValues("created")))

	before = testutil.ToFloat64(quotaRejections.WithLabelValues("cancellation"))
	IncQuotaRejection("cancellation")
	assert.Equal(t, before+1, testutil.ToFloat64(quotaRejections.WithLabelValues("cancellation")))

	before = testutil.ToFloat64(softFailures.WithLabelValues("availability"))
	IncSoftFailure("availability")
	assert.Equal(t, before+1, testutil.ToFloat64(softFailures.WithLabelValues("availability")))

	before = testutil.ToFloat64(followUps.WithLabelValues("counter_increment", "failed"))
	IncFollowUp("counter_increment", "failed")
	assert.Equal(t, before+1, testutil.ToFloat64(followUps.WithLabelValues("counter_increment", "failed")))

	before = testutil.ToFloat64(botUpdates.WithLabelValues("message"))
	IncBotUpdate("message")
	assert.Equal(t, before+1, testutil.ToFloat64(botUpdates.WithLabelValues("message")))
	assert.NotPanics(t, func() { ObserveBotUpdate(0.01) })
}

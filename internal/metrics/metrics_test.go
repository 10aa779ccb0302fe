package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// New registers its collectors with the default Prometheus registry,
// which panics on a second registration, so the tests share one instance.
var testMetrics = New()

func TestRecordProbeCounters(t *testing.T) {
	m := testMetrics

	m.RecordProbeSent()
	m.RecordProbeSent()
	m.RecordProbeAnswered()
	m.RecordProbeTimedOut("self")
	m.RecordProbeTimedOut("proxy")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ProbesSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProbesAnswered))
}

func TestSetGauges(t *testing.T) {
	m := testMetrics

	m.SetServerListSize(5)
	m.SetPreparedOpsActive(3)
	m.SetRecoveriesInFlight(2)

	assert.Equal(t, float64(5), testutil.ToFloat64(m.ServerListSize))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.PreparedOpsActive))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RecoveriesInFlight))
}

func TestObserveDurations(t *testing.T) {
	m := testMetrics

	m.ObserveRecoveryDuration(5 * time.Millisecond)
	m.ObserveLogStoreAppend("memory", time.Millisecond)
	m.ObserveLogStoreRead("memory", time.Millisecond)
	m.RecordPreparedOpOutcome("popped")
	m.RecordRecoveryAttempt("ok")

	assert.Equal(t, 1, testutil.CollectAndCount(m.RecoveryDuration))
}

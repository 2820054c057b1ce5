package quota

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T, limit int) *Ledger {
	t.Helper()
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return New(filepath.Join(t.TempDir(), "daily_send_limit.json"), limit, tools.LoggerCloner(l))
}

func TestCanSendWithinLimit(t *testing.T) {
	l := testLedger(t, 100)

	d := l.CanSend(30, 0)
	assert.True(t, d.Allowed)
	assert.Equal(t, 70, d.Remaining)
	assert.Equal(t, 0, d.Sent)
}

func TestCanSendArithmetic(t *testing.T) {
	l := testLedger(t, 100)
	l.RecordSent(80)

	d := l.CanSend(20, 0)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 80, d.Sent)

	d = l.CanSend(21, 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, 20, d.Remaining)
	assert.Contains(t, d.Message, "Cannot send 21 emails")
}

func TestCanSendLimitReached(t *testing.T) {
	l := testLedger(t, 50)
	l.RecordSent(50)

	d := l.CanSend(1, 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Contains(t, d.Message, "Daily limit reached")
}

func TestCanSendCustomLimit(t *testing.T) {
	l := testLedger(t, 100)
	l.RecordSent(10)

	d := l.CanSend(5, 20)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Remaining)
}

func TestRolloverResetsCounter(t *testing.T) {
	l := testLedger(t, 100)

	yesterday := time.Now().AddDate(0, 0, -1)
	l.now = func() time.Time { return yesterday }
	l.RecordSent(80)

	l.now = time.Now
	d := l.CanSend(50, 0)
	assert.True(t, d.Allowed, "yesterdays tally must not count against today")
	assert.Equal(t, 50, d.Remaining)
	assert.Equal(t, 0, d.Sent)
}

func TestRecordSentAccumulates(t *testing.T) {
	l := testLedger(t, 100)
	l.RecordSent(10)
	l.RecordSent(15)

	s := l.Status()
	assert.Equal(t, 25, s.Sent)
	assert.Equal(t, 75, s.Remaining)
	assert.Equal(t, 100, s.Limit)
	assert.Equal(t, time.Now().Format("2006-01-02"), s.Date)
}

func TestLedgerFileIsFullyRewritten(t *testing.T) {
	l := testLedger(t, 100)
	l.RecordSent(3)

	data, err := os.ReadFile(l.path)
	require.NoError(t, err)

	var e Entry
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, 3, e.Sent)
	assert.Equal(t, time.Now().Format("2006-01-02"), e.Date)
}

func TestMalformedLedgerDegradesToEmpty(t *testing.T) {
	l := testLedger(t, 100)
	require.NoError(t, os.WriteFile(l.path, []byte("{not json"), 0644))

	d := l.CanSend(10, 0)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Sent)
}

func TestReset(t *testing.T) {
	l := testLedger(t, 100)
	l.RecordSent(42)
	l.Reset()

	assert.Equal(t, 0, l.Status().Sent)
}

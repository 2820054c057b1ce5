package verify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modfin/utskick"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modfin/utskick/tools"
)

func testLoggerCloner() *tools.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return tools.LoggerCloner(l)
}

type apiFixture struct {
	credits   string
	statuses  map[string]string // email -> status
	substatus map[string]string
	validated []string
}

func newAPI(t *testing.T, f *apiFixture) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getcredits":
			fmt.Fprintf(w, `{"Credits": %q}`, f.credits)
		case "/validate":
			email := r.URL.Query().Get("email")
			f.validated = append(f.validated, email)
			status := f.statuses[email]
			if status == "" {
				status = "invalid"
			}
			fmt.Fprintf(w, `{"address": %q, "status": %q, "sub_status": %q}`, email, status, f.substatus[email])
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient("test-key", testLoggerCloner())
	client.BaseURL = srv.URL
	return client
}

type memStore struct {
	records []utskick.Record
	writes  int
}

func (m *memStore) Path() string { return "mem" }

func (m *memStore) Read() ([]utskick.Record, error) {
	return append([]utskick.Record(nil), m.records...), nil
}

func (m *memStore) Write(records []utskick.Record) error {
	m.records = append([]utskick.Record(nil), records...)
	m.writes++
	return nil
}

func newTestBatcher(client *Client, st *memStore) *Batcher {
	b := NewBatcher(client, st, []string{"gmail.com", "yahoo.com"}, time.Millisecond, testLoggerCloner())
	b.sleep = func(time.Duration) {}
	return b
}

func TestClientCredits(t *testing.T) {
	client := newAPI(t, &apiFixture{credits: "25"})

	credits, err := client.Credits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, credits)
}

func TestClientCreditsNotANumber(t *testing.T) {
	client := newAPI(t, &apiFixture{credits: "lots"})

	_, err := client.Credits(context.Background())
	assert.Error(t, err)
}

func TestClientValidate(t *testing.T) {
	client := newAPI(t, &apiFixture{
		credits:   "10",
		statuses:  map[string]string{"a@x.com": "valid"},
		substatus: map[string]string{"a@x.com": ""},
	})

	v, err := client.Validate(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "valid", v.Status)
	assert.Equal(t, "a@x.com", v.Address)
}

func TestBatcherAnnotatesAndPersistsPerItem(t *testing.T) {
	fixture := &apiFixture{
		credits: "100",
		statuses: map[string]string{
			"a@x.com": "valid",
			"b@x.com": "invalid",
		},
		substatus: map[string]string{"b@x.com": "mailbox_not_found"},
	}
	st := &memStore{records: []utskick.Record{
		{Email: "a@x.com"},
		{Email: "b@x.com"},
		{Email: "done@x.com", ZBStatus: "valid"},
		{Email: ""},
	}}

	stats, err := newTestBatcher(newAPI(t, fixture), st).Run(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, st.writes, "the table is flushed after every item")

	assert.Equal(t, "valid", st.records[0].ZBStatus)
	assert.Equal(t, "invalid", st.records[1].ZBStatus)
	assert.Equal(t, "mailbox_not_found", st.records[1].ZBSubStatus)
	assert.Equal(t, "valid", st.records[2].ZBStatus, "already verified records are untouched")
}

func TestBatcherSkipsBigProviders(t *testing.T) {
	fixture := &apiFixture{credits: "100"}
	st := &memStore{records: []utskick.Record{
		{Email: "someone@gmail.com"},
		{Email: "someone@YAHOO.com"},
	}}

	stats, err := newTestBatcher(newAPI(t, fixture), st).Run(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Skipped)
	assert.Empty(t, fixture.validated, "skip listed domains never hit the api")
	assert.Equal(t, "skipped", st.records[0].ZBStatus)
	assert.Equal(t, "big_provider", st.records[0].ZBSubStatus)
	assert.Equal(t, "skipped", st.records[1].ZBStatus)
}

func TestBatcherCappedByCredits(t *testing.T) {
	fixture := &apiFixture{credits: "1", statuses: map[string]string{"a@x.com": "valid"}}
	st := &memStore{records: []utskick.Record{
		{Email: "a@x.com"},
		{Email: "b@x.com"},
	}}

	stats, err := newTestBatcher(newAPI(t, fixture), st).Run(context.Background(), 100)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Attempted)
	assert.Empty(t, st.records[1].ZBStatus)
}

func TestBatcherNoCredits(t *testing.T) {
	st := &memStore{records: []utskick.Record{{Email: "a@x.com"}}}

	_, err := newTestBatcher(newAPI(t, &apiFixture{credits: "0"}), st).Run(context.Background(), 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credits")
	assert.Zero(t, st.writes)
}

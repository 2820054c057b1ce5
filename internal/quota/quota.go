package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

// one mutex per ledger path, so independent Ledger instances in the same
// process cannot interleave read-then-overwrite. Separate processes racing
// the file are a caller responsibility, run one batch job at a time.
var locks = tools.NewKeyedMutex()

// Entry is the persisted ledger, a single date keyed counter. The file is
// always rewritten in full, never patched.
type Entry struct {
	Date string `json:"date"`
	Sent int    `json:"sent"`
}

type Decision struct {
	Allowed   bool
	Remaining int
	Sent      int
	Message   string
}

type Status struct {
	Date      string `json:"date"`
	Sent      int    `json:"sent"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
}

type Ledger struct {
	path  string
	limit int
	log   *logrus.Logger
	now   func() time.Time
}

func New(path string, limit int, lc *tools.Logger) *Ledger {
	return &Ledger{
		path:  path,
		limit: limit,
		log:   lc.New("quota"),
		now:   time.Now,
	}
}

func (l *Ledger) today() string {
	return l.now().Format("2006-01-02")
}

// load degrades to a zero entry on any storage hiccup. The ledger must never
// block a run, a storage fault silently resetting the counter is the
// documented trade off.
func (l *Ledger) load() Entry {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return Entry{Date: l.today(), Sent: 0}
	}
	if err != nil {
		l.log.WithError(err).Error("could not read ledger, treating as empty")
		return Entry{Date: l.today(), Sent: 0}
	}
	var e Entry
	if err = json.Unmarshal(data, &e); err != nil {
		l.log.WithError(err).Error("ledger is malformed, treating as empty")
		return Entry{Date: l.today(), Sent: 0}
	}
	return e
}

func (l *Ledger) save(e Entry) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		l.log.WithError(err).Error("could not encode ledger")
		return
	}
	tmp := filepath.Join(filepath.Dir(l.path), fmt.Sprintf(".%s.tmp", filepath.Base(l.path)))
	if err = os.WriteFile(tmp, data, 0644); err != nil {
		l.log.WithError(err).Error("could not write ledger")
		return
	}
	if err = os.Rename(tmp, l.path); err != nil {
		l.log.WithError(err).Error("could not replace ledger")
	}
}

// CanSend checks whether count more sends fit within limit today. A limit of
// zero or less falls back to the ledger default. An entry dated before today
// counts as zero sent.
func (l *Ledger) CanSend(count, limit int) Decision {
	locks.Lock(l.path)
	defer locks.Unlock(l.path)

	if limit <= 0 {
		limit = l.limit
	}

	e := l.load()
	if e.Date != l.today() {
		e = Entry{Date: l.today(), Sent: 0}
		l.save(e)
	}

	remaining := limit - e.Sent

	if remaining <= 0 {
		return Decision{
			Allowed: false,
			Sent:    e.Sent,
			Message: fmt.Sprintf("Daily limit reached! Already sent %d emails today. Limit is %d.", e.Sent, limit),
		}
	}

	if count > remaining {
		return Decision{
			Allowed:   false,
			Remaining: remaining,
			Sent:      e.Sent,
			Message:   fmt.Sprintf("Cannot send %d emails. Only %d remaining today (already sent %d, limit %d).", count, remaining, e.Sent, limit),
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: remaining - count,
		Sent:      e.Sent,
		Message:   fmt.Sprintf("OK to send %d emails. %d will remain after this batch.", count, remaining-count),
	}
}

// RecordSent adds count to today's tally. The counter is never decremented.
func (l *Ledger) RecordSent(count int) {
	locks.Lock(l.path)
	defer locks.Unlock(l.path)

	e := l.load()
	if e.Date != l.today() {
		e = Entry{Date: l.today(), Sent: 0}
	}
	e.Sent += count
	l.save(e)

	l.log.Infof("daily send tracker: %d/%d emails sent today", e.Sent, l.limit)
}

func (l *Ledger) Status() Status {
	locks.Lock(l.path)
	defer locks.Unlock(l.path)

	e := l.load()
	if e.Date != l.today() {
		return Status{Date: l.today(), Sent: 0, Remaining: l.limit, Limit: l.limit}
	}
	return Status{Date: e.Date, Sent: e.Sent, Remaining: l.limit - e.Sent, Limit: l.limit}
}

func (l *Ledger) Reset() {
	locks.Lock(l.path)
	defer locks.Unlock(l.path)

	l.save(Entry{Date: l.today(), Sent: 0})
	l.log.Info("daily send counter reset")
}

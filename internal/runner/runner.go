package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modfin/utskick"
	"github.com/modfin/utskick/internal/metrics"
	"github.com/modfin/utskick/internal/quota"
	"github.com/modfin/utskick/internal/sender"
	"github.com/modfin/utskick/internal/store"
	"github.com/modfin/utskick/internal/validate"
	"github.com/modfin/utskick/smtpx"
	"github.com/modfin/utskick/tools"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// ErrQuota is returned when the daily ledger has no room left at all.
var ErrQuota = errors.New("daily quota exhausted")

type Config struct {
	DailyLimit int
	SendDelay  time.Duration

	ProbeDelayMin time.Duration
	ProbeDelayMax time.Duration

	// BlockOnUnknown decides whether an unknown probe verdict gates a send.
	// Off means the ambiguity is reported and the send goes ahead.
	BlockOnUnknown bool
}

// Runner drives one sequential batch over the record table. One record at a
// time, every selected record leaves the run in a terminal status.
type Runner struct {
	cfg     Config
	store   store.Store
	sender  sender.Sender
	ledger  *quota.Ledger
	checker *smtpx.Checker
	metrics *metrics.Metrics
	log     *logrus.Logger

	sleep func(time.Duration)
}

func New(cfg Config, st store.Store, snd sender.Sender, ledger *quota.Ledger, checker *smtpx.Checker, m *metrics.Metrics, lc *tools.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		store:   st,
		sender:  snd,
		ledger:  ledger,
		checker: checker,
		metrics: m,
		log:     lc.New("runner"),
		sleep:   time.Sleep,
	}
}

// ProcessBatch sends to up to maxItems pending records. Per record failures
// are captured in the statistics, only store level failures abort the run.
func (r *Runner) ProcessBatch(ctx context.Context, maxItems int) (utskick.Stats, error) {
	var stats utskick.Stats

	records, err := r.store.Read()
	if err != nil {
		return stats, fmt.Errorf("could not read records: %w", err)
	}
	store.InitializeSendCount(records)

	var selected []int
	for i, rec := range records {
		if !rec.Pending() {
			continue
		}
		selected = append(selected, i)
		if len(selected) == maxItems {
			break
		}
	}

	if len(selected) == 0 {
		r.log.Info("no records with empty status found, nothing to process")
		return stats, nil
	}

	decision := r.ledger.CanSend(len(selected), r.cfg.DailyLimit)
	if !decision.Allowed {
		if decision.Remaining <= 0 {
			return stats, fmt.Errorf("%w: %s", ErrQuota, decision.Message)
		}
		r.log.Warnf("quota: %s, truncating batch to %d", decision.Message, decision.Remaining)
		selected = selected[:decision.Remaining]
	}

	run := xid.New().String()
	r.log.WithField("run", run).Infof("selected %d records for processing", len(selected))

	for n, i := range selected {
		rec := &records[i]
		stats.Attempted++
		r.log.WithField("run", run).Infof("[%d/%d] processing: %s", n+1, len(selected), rec)

		if reason, ok := r.admit(*rec); !ok {
			r.failRecord(rec, reason, &stats)
			r.sleep(r.cfg.SendDelay)
			continue
		}

		res := r.sender.Send(ctx, *rec)
		if res.Success {
			rec.SendCount++
			rec.Status = utskick.StatusSuccess
			rec.Reason = ""
			rec.SentDate = tools.Today()
			stats.Success++
			r.log.WithField("run", run).Infof("email sent successfully (id: %s)", res.MessageID)
		} else {
			r.failRecord(rec, res.Err, &stats)
		}

		r.sleep(r.cfg.SendDelay)
	}

	if err = r.store.Write(records); err != nil {
		return stats, fmt.Errorf("could not persist records: %w", err)
	}

	r.ledger.RecordSent(stats.Success)

	r.metrics.Sent(stats.Success)
	r.metrics.Failed(stats.Failed)
	r.metrics.QuotaSent(r.ledger.Status().Sent)
	r.metrics.Push()

	return stats, nil
}

// admit runs the per record checks that must pass before any side effecting
// call is made.
func (r *Runner) admit(rec utskick.Record) (reason string, ok bool) {
	if v := validate.Check(rec); !v.OK {
		return v.Reason, false
	}

	switch utskick.Verdict(rec.SMTPStatus) {
	case utskick.VerdictInvalid:
		return "Deliverability probe: mailbox does not exist", false
	case utskick.VerdictUnknown:
		if r.cfg.BlockOnUnknown {
			return "Deliverability probe: verdict unknown", false
		}
		r.log.Warnf("deliverability unknown for %s, sending anyway", rec.Email)
	}
	return "", true
}

func (r *Runner) failRecord(rec *utskick.Record, reason string, stats *utskick.Stats) {
	rec.Status = utskick.StatusFailed
	rec.Reason = reason
	rec.SentDate = tools.Today()
	stats.Fail(*rec, reason)
	r.log.Infof("failed: %s", reason)
}

// ValidateAll annotates every record with its offline validation outcome and
// saves the table once.
func (r *Runner) ValidateAll(ctx context.Context) (utskick.Stats, error) {
	var stats utskick.Stats

	records, err := r.store.Read()
	if err != nil {
		return stats, fmt.Errorf("could not read records: %w", err)
	}

	for i := range records {
		rec := &records[i]
		stats.Attempted++
		if v := validate.Check(*rec); v.OK {
			rec.ValidationStatus = "valid"
			rec.ValidationReason = ""
			stats.Success++
		} else {
			rec.ValidationStatus = "invalid"
			rec.ValidationReason = v.Reason
			stats.Failed++
		}
	}

	if err = r.store.Write(records); err != nil {
		return stats, fmt.Errorf("could not persist records: %w", err)
	}
	return stats, nil
}

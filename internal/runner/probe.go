package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/modfin/utskick"
	"github.com/modfin/utskick/tools"
)

// ProbeBatch runs the deliverability probe over up to maxItems records that
// passed validation and have not been probed yet. The probe crawls one
// address every few seconds for minutes on end, so the table is persisted
// after every item, an interrupt loses at most the address in flight.
func (r *Runner) ProbeBatch(ctx context.Context, maxItems int) (utskick.Stats, error) {
	var stats utskick.Stats

	records, err := r.store.Read()
	if err != nil {
		return stats, fmt.Errorf("could not read records: %w", err)
	}

	var selected []int
	for i, rec := range records {
		if strings.TrimSpace(rec.Email) == "" {
			continue
		}
		if rec.ValidationStatus != "valid" || rec.SMTPStatus != "" {
			continue
		}
		selected = append(selected, i)
		if len(selected) == maxItems {
			break
		}
	}

	if len(selected) == 0 {
		r.log.Info("no emails to probe")
		return stats, nil
	}

	r.log.Infof("probing %d of %d records", len(selected), len(records))

	for n, i := range selected {
		rec := &records[i]
		stats.Attempted++
		r.log.Infof("[%d/%d] checking: %s", n+1, len(selected), rec.Email)

		res, mxCount := r.checker.Check(ctx, tools.NormalizeEmail(rec.Email))

		rec.SMTPStatus = string(res.Verdict)
		rec.SMTPReason = res.Reason
		rec.SMTPCheckedDate = tools.Today()
		rec.MXRecords = mxCount

		switch res.Verdict {
		case utskick.VerdictValid:
			stats.Success++
		case utskick.VerdictInvalid:
			stats.Fail(*rec, res.Reason)
		case utskick.VerdictSkipped:
			stats.Skipped++
		default:
			stats.Errors = append(stats.Errors, utskick.RecordError{Record: rec.String(), Reason: res.Reason})
		}
		r.metrics.Verdict(string(res.Verdict))
		r.log.Infof("%s: %s", res.Verdict, res.Reason)

		if err = r.store.Write(records); err != nil {
			return stats, fmt.Errorf("could not persist records: %w", err)
		}

		if n < len(selected)-1 {
			r.sleep(tools.DurationBetween(r.cfg.ProbeDelayMin, r.cfg.ProbeDelayMax))
		}
	}

	r.metrics.Push()
	return stats, nil
}

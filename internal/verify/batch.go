package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modfin/utskick"
	"github.com/modfin/utskick/internal/store"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

// Batcher runs third party verification over the record table. The job is
// slow and interruptible, so the table is persisted after every single item
// rather than once at the end.
type Batcher struct {
	client *Client
	store  store.Store
	skip   map[string]bool
	delay  time.Duration
	log    *logrus.Logger

	sleep func(time.Duration)
}

func NewBatcher(client *Client, st store.Store, skipProviders []string, delay time.Duration, lc *tools.Logger) *Batcher {
	skip := map[string]bool{}
	for _, p := range skipProviders {
		skip[strings.ToLower(strings.TrimSpace(p))] = true
	}
	return &Batcher{
		client: client,
		store:  st,
		skip:   skip,
		delay:  delay,
		log:    lc.New("verify"),
		sleep:  time.Sleep,
	}
}

// Run verifies up to maxItems unchecked records, capped by remaining api
// credits. Store failures abort, api failures mark the record and move on.
func (b *Batcher) Run(ctx context.Context, maxItems int) (utskick.Stats, error) {
	var stats utskick.Stats

	credits, err := b.client.Credits(ctx)
	if err != nil {
		return stats, err
	}
	b.log.Infof("available credits: %d", credits)
	if credits == 0 {
		return stats, fmt.Errorf("no verification credits available")
	}

	records, err := b.store.Read()
	if err != nil {
		return stats, fmt.Errorf("could not read records: %w", err)
	}

	var selected []int
	for i, r := range records {
		if strings.TrimSpace(r.Email) == "" || r.ZBStatus != "" {
			continue
		}
		selected = append(selected, i)
	}
	if maxItems > credits {
		maxItems = credits
	}
	if len(selected) > maxItems {
		selected = selected[:maxItems]
	}

	b.log.Infof("verifying %d of %d records", len(selected), len(records))

	for n, i := range selected {
		r := &records[i]
		stats.Attempted++
		b.log.Infof("[%d/%d] verifying: %s", n+1, len(selected), r.Email)

		domain, derr := tools.DomainOfEmail(r.Email)
		if derr == nil && b.skip[strings.ToLower(domain)] {
			r.ZBStatus = "skipped"
			r.ZBSubStatus = "big_provider"
			stats.Skipped++
		} else {
			v, verr := b.client.Validate(ctx, tools.NormalizeEmail(r.Email))
			switch {
			case verr != nil:
				r.ZBStatus = "error"
				r.ZBSubStatus = verr.Error()
				stats.Fail(*r, verr.Error())
			case v.Status == "valid":
				r.ZBStatus = v.Status
				r.ZBSubStatus = v.SubStatus
				stats.Success++
			default:
				r.ZBStatus = v.Status
				r.ZBSubStatus = v.SubStatus
				stats.Fail(*r, fmt.Sprintf("%s %s", v.Status, v.SubStatus))
			}
		}

		// progress survives an interrupt, every item is flushed
		if err = b.store.Write(records); err != nil {
			return stats, fmt.Errorf("could not persist records: %w", err)
		}

		if n < len(selected)-1 {
			b.sleep(b.delay)
		}
	}

	return stats, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modfin/utskick"
	"github.com/modfin/utskick/dnsx"
	"github.com/modfin/utskick/internal/config"
	"github.com/modfin/utskick/internal/metrics"
	"github.com/modfin/utskick/internal/quota"
	"github.com/modfin/utskick/internal/runner"
	"github.com/modfin/utskick/internal/sender"
	"github.com/modfin/utskick/internal/store"
	"github.com/modfin/utskick/internal/verify"
	"github.com/modfin/utskick/internal/web"
	"github.com/modfin/utskick/smtpx"
	"github.com/modfin/utskick/tools"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "utskick",
		Usage: "a bulk email campaign toolkit, sending, validation and deliverability probing",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Usage:   "record table, .xlsx or a sqlite database",
				EnvVars: []string{"UTSKICK_RECORD_FILE"},
			},
			&cli.StringFlag{
				Name:    "resolver",
				Usage:   "dns resolver used for mx lookups, host:port",
				EnvVars: []string{"UTSKICK_DNS_RESOLVER"},
			},
			&cli.BoolFlag{
				Name: "verbose",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "send",
				Usage: "send the templated email to pending records, quota gated",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "batch", Usage: "max records this run, defaults to UTSKICK_BATCH_SIZE"},
				},
				Action: send,
			},
			{
				Name:  "probe",
				Usage: "probe mail exchangers for mailbox existence",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "batch", Usage: "max records this run, defaults to UTSKICK_PROBE_BATCH_SIZE"},
				},
				Action: probe,
			},
			{
				Name:  "verify",
				Usage: "verify unchecked records against the zerobounce api",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "batch", Usage: "max records this run, defaults to UTSKICK_VERIFY_BATCH_SIZE"},
				},
				Action: verifyRecords,
			},
			{
				Name:   "validate",
				Usage:  "offline validation pass over all records",
				Action: validateRecords,
			},
			{
				Name:  "quota",
				Usage: "print todays ledger status",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "reset", Usage: "reset todays counter to zero"},
				},
				Action: quotaStatus,
			},
			{
				Name:  "serve",
				Usage: "run the http api",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Usage: "listen port, defaults to UTSKICK_API_PORT"},
				},
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// env holds everything a command needs, assembled once per invocation.
type env struct {
	cfg    *config.Config
	lc     *tools.Logger
	store  store.Store
	ledger *quota.Ledger
}

func setup(c *cli.Context) (*env, error) {
	l := log.New()
	if c.Bool("verbose") {
		l.SetLevel(log.DebugLevel)
	}
	lc := tools.LoggerCloner(l)

	cfg := config.Get()
	if f := c.String("file"); f != "" {
		cfg.RecordFile = f
	}
	if r := c.String("resolver"); r != "" {
		cfg.Resolver = r
	}

	st, err := store.Open(cfg.RecordFile, lc)
	if err != nil {
		return nil, fmt.Errorf("could not open record table %s: %w", cfg.RecordFile, err)
	}

	return &env{
		cfg:    cfg,
		lc:     lc,
		store:  st,
		ledger: quota.New(cfg.QuotaFile, cfg.DailyLimit, lc),
	}, nil
}

func (e *env) runnerCfg() runner.Config {
	return runner.Config{
		DailyLimit:     e.cfg.DailyLimit,
		SendDelay:      e.cfg.SendDelay,
		ProbeDelayMin:  e.cfg.ProbeDelayMin,
		ProbeDelayMax:  e.cfg.ProbeDelayMax,
		BlockOnUnknown: e.cfg.BlockOnUnknown,
	}
}

func (e *env) metrics() *metrics.Metrics {
	return metrics.New(metrics.Config{PushURL: e.cfg.MetricsPushURL, Job: "utskick"}, e.lc)
}

func (e *env) sender() (sender.Sender, error) {
	return sender.New(sender.Config{
		APIKey:       e.cfg.ResendAPIKey,
		From:         e.cfg.SenderEmail,
		Subject:      e.cfg.EmailSubject,
		TemplateFile: e.cfg.TemplateFile,
	}, e.lc)
}

func (e *env) checker() (*smtpx.Checker, func(context.Context) error) {
	dns := dnsx.New(dnsx.Config{Resolver: e.cfg.Resolver}, e.lc)
	prober := smtpx.NewProber(smtpx.Config{
		Helo:    e.cfg.ProbeHelo,
		From:    e.cfg.ProbeFrom,
		Timeout: e.cfg.ProbeTimeout,
	}, (&net.Dialer{}).DialContext, e.lc)
	return smtpx.NewChecker(dns, prober, e.cfg.SkipProviders, e.lc), dns.Stop
}

func batchOf(c *cli.Context, fallback int) int {
	if n := c.Int("batch"); n > 0 {
		return n
	}
	return fallback
}

func printStats(stats utskick.Stats) {
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}

func send(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	snd, err := e.sender()
	if err != nil {
		return err
	}

	run := runner.New(e.runnerCfg(), e.store, snd, e.ledger, nil, e.metrics(), e.lc)
	stats, err := run.ProcessBatch(c.Context, batchOf(c, e.cfg.BatchSize))
	printStats(stats)
	return err
}

func probe(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	checker, stop := e.checker()
	defer stop(c.Context)

	run := runner.New(e.runnerCfg(), e.store, nil, e.ledger, checker, e.metrics(), e.lc)
	stats, err := run.ProbeBatch(c.Context, batchOf(c, e.cfg.ProbeBatchSize))
	printStats(stats)
	return err
}

func verifyRecords(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	if e.cfg.ZeroBounceAPIKey == "" {
		return fmt.Errorf("UTSKICK_ZEROBOUNCE_API_KEY is required for verification")
	}

	client := verify.NewClient(e.cfg.ZeroBounceAPIKey, e.lc)
	batcher := verify.NewBatcher(client, e.store, e.cfg.SkipProviders, e.cfg.VerifyDelay, e.lc)

	stats, err := batcher.Run(c.Context, batchOf(c, e.cfg.VerifyBatchSize))
	printStats(stats)
	return err
}

func validateRecords(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	run := runner.New(e.runnerCfg(), e.store, nil, e.ledger, nil, nil, e.lc)
	stats, err := run.ValidateAll(c.Context)
	printStats(stats)
	return err
}

func quotaStatus(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	if c.Bool("reset") {
		e.ledger.Reset()
	}

	out, _ := json.MarshalIndent(e.ledger.Status(), "", "  ")
	fmt.Println(string(out))
	return nil
}

func serve(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	snd, err := e.sender()
	if err != nil {
		return err
	}

	checker, stopDNS := e.checker()
	run := runner.New(e.runnerCfg(), e.store, snd, e.ledger, checker, e.metrics(), e.lc)

	port := c.Int("port")
	if port == 0 {
		port = e.cfg.APIPort
	}

	srv := web.New(c.Context, web.Config{Port: port, BatchSize: e.cfg.BatchSize}, run, e.store, e.ledger, e.lc)
	srv.Start()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sigc
	log.Infof("Got signal: %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	if err = srv.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to stop webserver")
	}
	return stopDNS(shutdownCtx)
}

package config

import (
	"log"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	RecordFile string `env:"UTSKICK_RECORD_FILE" envDefault:"emails_data.xlsx"`

	// Sender, required for the send paths. Checked at startup, not per record.
	ResendAPIKey string `env:"UTSKICK_RESEND_API_KEY"`
	SenderEmail  string `env:"UTSKICK_SENDER_EMAIL"`
	EmailSubject string `env:"UTSKICK_EMAIL_SUBJECT"`
	TemplateFile string `env:"UTSKICK_TEMPLATE_FILE" envDefault:"templates/email.html"`

	BatchSize  int           `env:"UTSKICK_BATCH_SIZE" envDefault:"500"`
	DailyLimit int           `env:"UTSKICK_DAILY_LIMIT" envDefault:"100"`
	QuotaFile  string        `env:"UTSKICK_QUOTA_FILE" envDefault:"daily_send_limit.json"`
	SendDelay  time.Duration `env:"UTSKICK_SEND_DELAY" envDefault:"2s"`

	// Big providers accept-then-bounce, making exchange level checks
	// meaningless. One list, honored by both the SMTP probe and the
	// verification API flow.
	SkipProviders []string `env:"UTSKICK_SKIP_PROVIDERS" envSeparator:"," envDefault:"gmail.com,yahoo.com,hotmail.com,outlook.com,live.com"`

	Resolver string `env:"UTSKICK_DNS_RESOLVER" envDefault:"1.1.1.1:53"`

	ProbeBatchSize int           `env:"UTSKICK_PROBE_BATCH_SIZE" envDefault:"50"`
	ProbeTimeout   time.Duration `env:"UTSKICK_PROBE_TIMEOUT" envDefault:"10s"`
	ProbeHelo      string        `env:"UTSKICK_PROBE_HELO" envDefault:"verify.local"`
	ProbeFrom      string        `env:"UTSKICK_PROBE_FROM" envDefault:"verify@example.com"`
	ProbeDelayMin  time.Duration `env:"UTSKICK_PROBE_DELAY_MIN" envDefault:"5s"`
	ProbeDelayMax  time.Duration `env:"UTSKICK_PROBE_DELAY_MAX" envDefault:"15s"`

	// Whether an unknown probe verdict should gate a send. Off means
	// report-and-allow.
	BlockOnUnknown bool `env:"UTSKICK_BLOCK_ON_UNKNOWN" envDefault:"false"`

	ZeroBounceAPIKey string        `env:"UTSKICK_ZEROBOUNCE_API_KEY"`
	VerifyBatchSize  int           `env:"UTSKICK_VERIFY_BATCH_SIZE" envDefault:"100"`
	VerifyDelay      time.Duration `env:"UTSKICK_VERIFY_DELAY" envDefault:"500ms"`

	APIPort int `env:"UTSKICK_API_PORT" envDefault:"3000"`

	MetricsPushURL string `env:"UTSKICK_METRICS_PUSH_URL"`
}

var (
	once sync.Once
	cfg  Config
)

func Get() *Config {
	once.Do(func() {
		cfg = Config{}
		if err := env.Parse(&cfg); err != nil {
			log.Panic("Couldn't parse Config from env: ", err)
		}
	})
	return &cfg
}

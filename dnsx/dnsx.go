package dnsx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/miekg/dns"
	"github.com/modfin/henry/compare"
	"github.com/modfin/henry/slicez"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

// ErrNoMailServer signals that a domain cannot receive mail, either because
// no MX record exists or because the lookup itself failed.
var ErrNoMailServer = errors.New("no mail server for domain")

// Host is one mail exchanger, ordered by ascending preference.
type Host struct {
	Name string
	Pref uint16
}

func (h Host) Addr() string {
	return net.JoinHostPort(h.Name, "25")
}

type Config struct {
	Resolver string
}

type Client interface {
	MX(domain string) ([]Host, error)
	Stop(ctx context.Context) error
}

type client struct {
	mxCache      *ttlcache.Cache[string, []Host]
	mu           *tools.KeyedMutex
	log          *logrus.Logger
	resolverHost string
	resolverPort string
}

func New(cfg Config, lc *tools.Logger) Client {
	c := &client{
		mxCache: ttlcache.New[string, []Host](ttlcache.WithDisableTouchOnHit[string, []Host]()),
		mu:      tools.NewKeyedMutex(),
		log:     lc.New("dnsx"),
	}

	var err error
	c.resolverHost, c.resolverPort, err = net.SplitHostPort(cfg.Resolver)
	if err != nil {
		c.log.WithError(err).Errorf("could not split host and port of resolver %s, defaulting to 1.1.1.1:53 if necessary", cfg.Resolver)
		c.resolverHost = compare.Coalesce(c.resolverHost, "1.1.1.1")
		c.resolverPort = compare.Coalesce(c.resolverPort, "53")
	}

	go c.mxCache.Start()
	return c
}

func (c *client) Stop(ctx context.Context) error {
	c.mxCache.Stop()
	return nil
}

// MX resolves the mail exchangers of a domain, ascending by preference with
// lookup order kept for ties. Results are cached for the record TTL.
func (c *client) MX(domain string) ([]Host, error) {
	c.mu.Lock(domain)
	defer c.mu.Unlock(domain)

	item := c.mxCache.Get(domain)
	if item != nil {
		return item.Value(), nil
	}

	cli := dns.Client{}
	m := &dns.Msg{}
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	m.RecursionDesired = true

	r, _, err := cli.Exchange(m, net.JoinHostPort(c.resolverHost, c.resolverPort))
	if err != nil {
		c.log.WithError(err).WithField("domain", domain).Info("could not reach dns resolver")
		return nil, fmt.Errorf("could not resolve mx for domain %s: %w", domain, ErrNoMailServer)
	}

	if r.Rcode != dns.RcodeSuccess {
		c.log.WithField("dns-rcode", r.Rcode).WithField("domain", domain).Info("mx query was refused")
		return nil, fmt.Errorf("mx query for %s got rcode %d: %w", domain, r.Rcode, ErrNoMailServer)
	}

	mxa := slicez.Map(r.Answer, func(a dns.RR) *dns.MX {
		mx, _ := a.(*dns.MX)
		return mx
	})
	mxa = slicez.Reject(mxa, compare.IsZero[*dns.MX]())

	sort.SliceStable(mxa, func(i, j int) bool {
		return mxa[i].Preference < mxa[j].Preference
	})

	hosts := slicez.Map(mxa, func(mx *dns.MX) Host {
		return Host{
			Name: strings.TrimRight(mx.Mx, "."),
			Pref: mx.Preference,
		}
	})

	if len(hosts) == 0 {
		c.log.WithField("domain", domain).Info("no mx records found")
		return nil, fmt.Errorf("no mx records for domain %s: %w", domain, ErrNoMailServer)
	}

	ttl := slicez.Min(slicez.Map(mxa, func(mx *dns.MX) uint32 {
		return mx.Hdr.Ttl
	})...)
	c.mxCache.Set(domain, hosts, time.Duration(ttl)*time.Second)

	return hosts, nil
}

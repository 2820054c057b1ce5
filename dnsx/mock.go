package dnsx

import (
	"context"
)

// NewMock returns a Client that resolves every domain to the given hosts, or
// to ErrNoMailServer when err is set. Used by tests and the probe fakes.
func NewMock(hosts []Host, err error) Client {
	return &MockClient{hosts: hosts, err: err}
}

type MockClient struct {
	hosts []Host
	err   error

	Lookups []string
}

func (c *MockClient) Stop(ctx context.Context) error {
	return nil
}

func (c *MockClient) MX(domain string) ([]Host, error) {
	c.Lookups = append(c.Lookups, domain)
	if c.err != nil {
		return nil, c.err
	}
	return c.hosts, nil
}

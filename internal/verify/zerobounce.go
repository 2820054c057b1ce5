package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://api.zerobounce.net/v2"

// Validation is the per address answer from the verification API.
type Validation struct {
	Address    string `json:"address"`
	Status     string `json:"status"`
	SubStatus  string `json:"sub_status"`
	DidYouMean string `json:"did_you_mean"`
	FreeEmail  bool   `json:"free_email"`
}

type Client struct {
	BaseURL string

	apiKey string
	http   *http.Client
	log    *logrus.Logger
}

func NewClient(apiKey string, lc *tools.Logger) *Client {
	return &Client{
		BaseURL: DefaultBaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     lc.New("zerobounce"),
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	query.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verification api returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Validate(ctx context.Context, email string) (Validation, error) {
	var v Validation
	err := c.get(ctx, "/validate", url.Values{"email": []string{email}}, &v)
	if err != nil {
		return Validation{}, fmt.Errorf("could not validate %s: %w", email, err)
	}
	return v, nil
}

// Credits returns the remaining verification credits. The api encodes the
// number as a string.
func (c *Client) Credits(ctx context.Context) (int, error) {
	var out struct {
		Credits json.Number `json:"Credits"`
	}
	err := c.get(ctx, "/getcredits", url.Values{}, &out)
	if err != nil {
		return 0, fmt.Errorf("could not check credits: %w", err)
	}
	n, err := out.Credits.Int64()
	if err != nil {
		return 0, fmt.Errorf("credits count %q is not a number: %w", out.Credits, err)
	}
	return int(n), nil
}

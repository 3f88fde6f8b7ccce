package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
)

// Record is one user object returned by the info endpoint. No key is
// guaranteed to be present.
type Record map[string]any

// InfoOptions configures the info endpoint client. Cookies and Headers are
// sent with every request.
type InfoOptions struct {
	BaseURL     string
	EmailDomain string
	Cookies     map[string]string
	Headers     map[string]string
	Timeout     time.Duration
}

type InfoClient struct {
	baseURL     string
	emailDomain string
	http        *resty.Client
}

func NewInfoClient(opts InfoOptions) *InfoClient {
	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Accept", "application/json")
	client.SetHeaders(opts.Headers)

	names := make([]string, 0, len(opts.Cookies))
	for name := range opts.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		client.SetCookie(&http.Cookie{Name: name, Value: opts.Cookies[name]})
	}

	return &InfoClient{
		baseURL:     opts.BaseURL,
		emailDomain: opts.EmailDomain,
		http:        client,
	}
}

// Email is the query value the endpoint is keyed by.
func (c *InfoClient) Email(psid string) string {
	return psid + "@" + c.emailDomain
}

// Fetch queries {base}?auth=true&email={psid}@{domain}. An empty body, a
// non-array payload or "[]" is reported as KindNotFound.
func (c *InfoClient) Fetch(ctx context.Context, psid string) (Record, error) {
	const op = "lookup.InfoClient.Fetch"

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("auth", "true").
		SetQueryParam("email", c.Email(psid)).
		Get(c.baseURL)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, PSID: psid, Err: fmt.Errorf("%s: request failed: %w", op, err)}
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, &Error{
			Kind: KindNetwork,
			PSID: psid,
			Err:  fmt.Errorf("%s: bad status %d, response: %s", op, resp.StatusCode(), truncate(resp.Body(), 256)),
		}
	}

	rec, derr := decodeRecord(resp.Body())
	if derr != nil {
		derr.PSID = psid
		derr.Err = fmt.Errorf("%s: %w", op, derr.Err)
		return nil, derr
	}
	return rec, nil
}

func decodeRecord(body []byte) (Record, *Error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, &Error{Kind: KindNotFound, Err: errors.New("empty response")}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, &Error{Kind: KindFormat, Err: fmt.Errorf("decoding response: %w", err)}
	}

	list, ok := payload.([]any)
	if !ok || len(list) == 0 {
		return nil, &Error{Kind: KindNotFound, Err: fmt.Errorf("no record in response: %s", truncate(body, 64))}
	}

	obj, ok := list[0].(map[string]any)
	if !ok {
		return nil, &Error{Kind: KindFormat, Err: fmt.Errorf("first element is %T, not an object", list[0])}
	}
	return Record(obj), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

package lookup

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Picture is an image downloaded from the picture server. Name is the file
// name it is uploaded under.
type Picture struct {
	PSID        string
	URL         string
	Name        string
	ContentType string
	Data        []byte
}

type PictureClient struct {
	baseURL string
	prefix  string
	http    *resty.Client
}

func NewPictureClient(baseURL, prefix string, timeout time.Duration) *PictureClient {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "image/*")

	return &PictureClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  prefix,
		http:    client,
	}
}

// URL builds {base}/{prefix}{psid}.jpg. The PSID is path-escaped so the
// server sees it verbatim after decoding.
func (c *PictureClient) URL(psid string) string {
	return fmt.Sprintf("%s/%s%s.jpg", c.baseURL, c.prefix, url.PathEscape(psid))
}

// Fetch downloads the picture for psid. A response only counts as a picture
// when it is a 200 with an image/* content type.
func (c *PictureClient) Fetch(ctx context.Context, psid string) (*Picture, error) {
	const op = "lookup.PictureClient.Fetch"

	target := c.URL(psid)
	resp, err := c.http.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, PSID: psid, Err: fmt.Errorf("%s: request failed: %w", op, err)}
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, &Error{
			Kind: statusKind(resp.StatusCode()),
			PSID: psid,
			Err:  fmt.Errorf("%s: bad status %d from %s", op, resp.StatusCode(), target),
		}
	}

	contentType := resp.Header().Get("Content-Type")
	if !strings.HasPrefix(contentType, "image") {
		return nil, &Error{
			Kind: KindFormat,
			PSID: psid,
			Err:  fmt.Errorf("%s: unexpected content type %q from %s", op, contentType, target),
		}
	}

	return &Picture{
		PSID:        psid,
		URL:         target,
		Name:        c.FileName(psid),
		ContentType: contentType,
		Data:        resp.Body(),
	}, nil
}

// FileName is {prefix}{psid}.jpg with path separators in the PSID turned
// into underscores.
func (c *PictureClient) FileName(psid string) string {
	return c.prefix + fileNameReplacer.Replace(psid) + ".jpg"
}

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_")

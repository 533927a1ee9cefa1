// Package fetch downloads individual objects from repair remotes and
// re-installs them into the local store.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/zstd"

	"github.com/fenwickgrove/arbor/pkg/object"
)

// Source is one candidate repair remote, in priority order.
type Source struct {
	Name string
	URL  string // base URL; objects live at <URL>/<relative object path>
}

const responseLimit = 256 << 20 // 256MB per object

// Client fetches objects over HTTP. Only file-kind objects are repairable:
// metadata objects are small and their absence usually indicates a deeper
// graph problem better surfaced as corruption than silently patched.
type Client struct {
	httpClient *http.Client
	errout     io.Writer
	maxTries   uint
}

// ClientOptions configures the fetch client. Zero-value fields receive
// defaults (60s timeout, 3 tries per request).
type ClientOptions struct {
	Timeout  time.Duration
	MaxTries uint
	Errout   io.Writer // per-source failure diagnostics
}

// NewClient creates a fetch client.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.Errout == nil {
		opts.Errout = io.Discard
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		errout:     opts.Errout,
		maxTries:   opts.MaxTries,
	}
}

// RepairObject tries each source in order until one supplies a payload
// whose self-computed checksum matches id, and installs it into st.
// Reports whether the object was repaired. Failures against one source
// are logged and never surface past this call; cancellation aborts the
// loop without trying further sources.
func (c *Client) RepairObject(ctx context.Context, st *object.Store, sources []Source, id object.ObjectID) bool {
	if id.Kind != object.KindFile {
		fmt.Fprintf(c.errout, "repair of %s failed, not implemented for %s objects\n", id, id.Kind)
		return false
	}

	rel, err := object.RelativeObjectPath(id)
	if err != nil {
		fmt.Fprintf(c.errout, "repair of %s failed: %v\n", id, err)
		return false
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			return false
		}

		url := strings.TrimRight(src.URL, "/") + "/" + rel
		body, err := c.get(ctx, url)
		if err != nil {
			fmt.Fprintf(c.errout, "repair of %s from %s failed, failed to download the object from %s: %v\n", id, src.Name, url, err)
			continue
		}

		stream, err := decompressZstd(body)
		if err != nil {
			fmt.Fprintf(c.errout, "repair of %s from %s failed, failed to decompress the content stream: %v\n", id, src.Name, err)
			continue
		}
		f, err := object.UnmarshalFileStream(stream)
		if err != nil {
			fmt.Fprintf(c.errout, "repair of %s from %s failed, failed to parse the content stream: %v\n", id, src.Name, err)
			continue
		}
		if err := object.ValidateFileMode(f.Mode); err != nil {
			fmt.Fprintf(c.errout, "repair of %s from %s failed, invalid content: %v\n", id, src.Name, err)
			continue
		}

		// The store recomputes the checksum and refuses a mismatch, so a
		// corrupted or hostile remote cannot install a wrong object.
		if _, err := st.WriteContent(id.Checksum, stream); err != nil {
			fmt.Fprintf(c.errout, "repair of %s from %s failed, failed to write object to the repository: %v\n", id, src.Name, err)
			continue
		}

		return true
	}

	return false
}

// get issues a GET with bounded retries. Transport errors and 5xx/429
// responses retry; other non-2xx responses fail immediately.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	return backoff.Retry(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %s", resp.Status)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return body, nil
	}, backoff.WithMaxTries(c.maxTries))
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxImageSize bounds HTTP and TFTP downloads.
const DefaultMaxImageSize = 512 << 20

// HTTP loads images named by URI device path nodes over HTTP(S).
type HTTP struct {
	Client       *http.Client
	MaxImageSize int64
	Logger       logr.Logger
}

var _ Backend = (*HTTP)(nil)

// NewHTTP returns an HTTP backend with an instrumented client.
func NewHTTP(timeout time.Duration, maxImageSize int64, logger logr.Logger) *HTTP {
	return &HTTP{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		MaxImageSize: maxImageSize,
		Logger:       logger,
	}
}

func (h *HTTP) Name() string { return "http" }

func (h *HTTP) Supports(dp efi.DevicePath) bool {
	u, ok := bootURL(dp)
	return ok && (u.Scheme == "http" || u.Scheme == "https")
}

func (h *HTTP) Load(ctx context.Context, dp efi.DevicePath) (*Image, error) {
	u, ok := bootURL(dp)
	if !ok {
		return nil, fmt.Errorf("no URI in %s: %w", dp, ErrUnsupported)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w: %w", u, ErrLoad, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: %s: %w", u, resp.Status, ErrLoad)
	}

	limit := h.MaxImageSize
	if limit <= 0 {
		limit = DefaultMaxImageSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w: %w", u, ErrLoad, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%s exceeds %d bytes: %w", u, limit, ErrLoad)
	}

	h.Logger.V(1).Info("downloaded image", "url", u.String(), "size", len(data))
	return newImage(data, u.String()), nil
}

func bootURL(dp efi.DevicePath) (*url.URL, bool) {
	s, ok := dp.BootURI()
	if !ok || s == "" {
		return nil, false
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, false
	}
	return u, true
}

package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/go-logr/logr"
	"github.com/pin/tftp/v3"
)

const defaultTFTPPort = "69"

// TFTP loads images over TFTP. It serves tftp:// URI nodes, and network
// device paths (MAC, IPv4 or IPv6 followed by a file path) from Server.
type TFTP struct {
	// Server is the host[:port] used for network device paths.
	Server       string
	Timeout      time.Duration
	Retries      int
	MaxImageSize int64
	Logger       logr.Logger
}

var _ Backend = (*TFTP)(nil)

func (t *TFTP) Name() string { return "tftp" }

func (t *TFTP) Supports(dp efi.DevicePath) bool {
	_, _, ok := t.target(dp)
	return ok
}

// target returns the server address and file name for dp.
func (t *TFTP) target(dp efi.DevicePath) (string, string, bool) {
	if u, ok := bootURL(dp); ok {
		if u.Scheme != "tftp" || u.Host == "" {
			return "", "", false
		}
		return withPort(u.Host), strings.TrimPrefix(u.Path, "/"), u.Path != ""
	}

	if t.Server == "" {
		return "", "", false
	}
	device, file := efi.SplitFilePath(dp)
	if len(file) == 0 || !isNetwork(device) {
		return "", "", false
	}
	name := strings.TrimLeft(strings.ReplaceAll(file.FilePathString(), `\`, "/"), "/")
	return withPort(t.Server), name, name != ""
}

func isNetwork(dp efi.DevicePath) bool {
	return dp.Has(efi.DevTypeMessage, efi.DevSubTypeMAC) ||
		dp.Has(efi.DevTypeMessage, efi.DevSubTypeIPv4) ||
		dp.Has(efi.DevTypeMessage, efi.DevSubTypeIPv6)
}

func withPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), defaultTFTPPort)
}

func (t *TFTP) Load(ctx context.Context, dp efi.DevicePath) (*Image, error) {
	server, name, ok := t.target(dp)
	if !ok {
		return nil, fmt.Errorf("no TFTP target in %s: %w", dp, ErrUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	c, err := tftp.NewClient(server)
	if err != nil {
		return nil, fmt.Errorf("(tftp) client for %s: %w: %w", server, ErrLoad, err)
	}
	if t.Timeout > 0 {
		c.SetTimeout(t.Timeout)
	}
	if t.Retries > 0 {
		c.SetRetries(t.Retries)
	}

	wt, err := c.Receive(name, "octet")
	if err != nil {
		return nil, fmt.Errorf("(tftp) requesting %s from %s: %w: %w", name, server, ErrLoad, err)
	}

	limit := t.MaxImageSize
	if limit <= 0 {
		limit = DefaultMaxImageSize
	}
	if it, ok := wt.(tftp.IncomingTransfer); ok {
		if size, ok := it.Size(); ok && size > limit {
			return nil, fmt.Errorf("(tftp) %s is %d bytes, limit %d: %w", name, size, limit, ErrLoad)
		}
	}

	var buf bytes.Buffer
	if _, err := wt.WriteTo(&limitedWriter{w: &buf, n: limit}); err != nil {
		return nil, fmt.Errorf("(tftp) receiving %s: %w: %w", name, ErrLoad, err)
	}

	source := "tftp://" + server + "/" + name
	t.Logger.V(1).Info("(tftp) transfer complete", "source", source, "size", buf.Len())
	return newImage(buf.Bytes(), source), nil
}

type limitedWriter struct {
	w io.Writer
	n int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.n {
		return 0, fmt.Errorf("image larger than limit")
	}
	l.n -= int64(len(p))
	return l.w.Write(p)
}

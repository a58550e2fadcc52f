package loader_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/bmcpi/efiboot/internal/loader"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ipxe.efi", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ipxe"))
	})
	mux.HandleFunc("/big.efi", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{0x90}, 64))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h := loader.NewHTTP(5*time.Second, 32, logr.Discard())
	nic := efi.DevicePath{}.PciRoot(0).Pci(2, 0).IPv4()

	t.Run("supports", func(t *testing.T) {
		assert.True(t, h.Supports(nic.URI(srv.URL+"/ipxe.efi")))
		assert.False(t, h.Supports(nic.URI("tftp://10.0.0.1/ipxe.efi")))
		assert.False(t, h.Supports(nic))
	})

	t.Run("load", func(t *testing.T) {
		img, err := h.Load(context.Background(), nic.URI(srv.URL+"/ipxe.efi"))
		require.NoError(t, err)
		assert.Equal(t, []byte("ipxe"), img.Data)
		assert.Equal(t, srv.URL+"/ipxe.efi", img.Source)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := h.Load(context.Background(), nic.URI(srv.URL+"/missing.efi"))
		assert.ErrorIs(t, err, loader.ErrLoad)
		assert.ErrorContains(t, err, "404")
	})

	t.Run("too large", func(t *testing.T) {
		_, err := h.Load(context.Background(), nic.URI(srv.URL+"/big.efi"))
		assert.ErrorIs(t, err, loader.ErrLoad)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.Load(ctx, nic.URI(srv.URL+"/ipxe.efi"))
		assert.ErrorIs(t, err, loader.ErrLoad)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

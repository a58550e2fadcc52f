// Package loader turns the device path of a boot option into image bytes.
package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/bmcpi/efiboot/internal/loader"

var (
	// ErrLoad is wrapped by every failure to produce an image.
	ErrLoad = errors.New("image load failed")
	// ErrUnsupported means no backend handles the device path.
	ErrUnsupported = fmt.Errorf("unsupported device path: %w", ErrLoad)
)

// Image is a loaded boot image. The caller owns Data.
type Image struct {
	Data   []byte
	Source string
	Size   int
}

func newImage(data []byte, source string) *Image {
	return &Image{Data: data, Source: source, Size: len(data)}
}

// ImageLoader is what the boot manager needs from the platform.
type ImageLoader interface {
	// LoadImage loads the image named by the first instance of a load
	// option's file path list.
	LoadImage(ctx context.Context, path []byte) (*Image, error)
	// SplitPath separates a file path list into its device and file parts.
	SplitPath(path []byte) (device, file efi.DevicePath)
}

// Backend loads images for the device paths it recognises.
type Backend interface {
	Name() string
	Supports(dp efi.DevicePath) bool
	Load(ctx context.Context, dp efi.DevicePath) (*Image, error)
}

// SplitPath splits the first device path instance of path. A path that does
// not parse yields an empty device and file path.
func SplitPath(path []byte) (device, file efi.DevicePath) {
	dp, err := efi.ParseDevicePath(path)
	if err != nil {
		return efi.DevicePath{}, efi.DevicePath{}
	}
	return efi.SplitFilePath(dp)
}

// Chain dispatches each device path to the first backend that supports it.
type Chain struct {
	backends []Backend
	log      logr.Logger
}

var _ ImageLoader = (*Chain)(nil)

func NewChain(logger logr.Logger, backends ...Backend) *Chain {
	return &Chain{backends: backends, log: logger.WithName("loader")}
}

func (c *Chain) LoadImage(ctx context.Context, path []byte) (img *Image, err error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "LoadImage")
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetAttributes(attribute.String("loader.source", img.Source), attribute.Int("loader.size", img.Size))
		span.SetStatus(codes.Ok, "image loaded")
	}()

	dp, err := efi.ParseDevicePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: device path: %w", ErrLoad, err)
	}
	span.SetAttributes(attribute.String("loader.device_path", dp.String()))

	for _, b := range c.backends {
		if !b.Supports(dp) {
			continue
		}
		span.SetAttributes(attribute.String("loader.backend", b.Name()))
		c.log.V(1).Info("loading image", "backend", b.Name(), "devicePath", dp.String())

		img, err := b.Load(ctx, dp)
		if err != nil {
			if !errors.Is(err, ErrLoad) {
				err = fmt.Errorf("%s: %w: %w", b.Name(), ErrLoad, err)
			}
			return nil, err
		}
		return img, nil
	}
	return nil, fmt.Errorf("%s: %w", dp, ErrUnsupported)
}

func (c *Chain) SplitPath(path []byte) (device, file efi.DevicePath) {
	return SplitPath(path)
}

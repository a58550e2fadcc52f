// Package bootmgr implements the boot manager policy: walk BootNext and
// BootOrder, decode each Boot#### option and hand the first active one that
// loads to the caller.
package bootmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/bmcpi/efiboot/internal/firmware/efi"
	"github.com/bmcpi/efiboot/internal/firmware/varstore"
	"github.com/bmcpi/efiboot/internal/loader"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

const tracerName = "github.com/bmcpi/efiboot/internal/bootmgr"

var (
	// ErrNoBootOrder means the store has no usable BootOrder variable.
	ErrNoBootOrder = errors.New("no BootOrder variable")
	// ErrNoBootableEntry means every candidate was skipped. The returned
	// error also wraps the reason for each skip.
	ErrNoBootableEntry = errors.New("no bootable entry")

	errInactive = errors.New("load option is not active")
)

// Result describes the option that was loaded.
type Result struct {
	ID         uint16
	Name       string
	Option     *efi.LoadOption
	Image      *loader.Image
	DevicePath efi.DevicePath
	FilePath   efi.DevicePath
}

// Manager resolves boot options against a variable store and an image
// loader. A Manager performs no locking; run one pass at a time.
type Manager struct {
	store    varstore.VarStore
	loader   loader.ImageLoader
	log      logr.Logger
	reg      prometheus.Registerer
	bootNext bool
	metrics  *metrics
}

type Option func(*Manager)

func WithLogger(logger logr.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithRegisterer registers the manager's counters with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.reg = reg
	}
}

// WithBootNext controls whether BootNext is honoured. It is by default.
func WithBootNext(enabled bool) Option {
	return func(m *Manager) {
		m.bootNext = enabled
	}
}

func New(store varstore.VarStore, ldr loader.ImageLoader, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		loader:   ldr,
		log:      logr.Discard(),
		bootNext: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithName("bootmgr")
	m.metrics = newMetrics(m.reg)
	return m
}

// ReadBootOrder returns the identifiers listed in BootOrder. Any failure to
// read the variable is reported as ErrNoBootOrder.
func ReadBootOrder(store varstore.VarStore) ([]uint16, error) {
	data, err := store.Get(efi.BootOrderName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoBootOrder, err)
	}
	return efi.ParseBootOrder(data), nil
}

// skipError records why a boot option was passed over.
type skipError struct {
	name    string
	outcome string
	err     error
}

func (e *skipError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.name, e.outcome, e.err)
}

func (e *skipError) Unwrap() error {
	return e.err
}

// Load tries BootNext, then every BootOrder entry in turn, and returns the
// first option whose image loads. It returns ErrNoBootOrder when BootOrder
// is absent and ErrNoBootableEntry when every candidate was skipped.
func (m *Manager) Load(ctx context.Context) (res *Result, err error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Load")
	defer span.End()
	defer func() {
		switch {
		case err == nil:
			m.metrics.load(resultLoaded)
			span.SetAttributes(attribute.String("bootmgr.option", res.Name))
			span.SetStatus(codes.Ok, "loaded "+res.Name)
		case errors.Is(err, ErrNoBootOrder):
			m.metrics.load(resultNoBootOrder)
			span.SetStatus(codes.Error, err.Error())
		default:
			m.metrics.load(resultNoBootableEntry)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var reasons error
	if m.bootNext {
		next, nextErr := m.tryBootNext(ctx)
		if next != nil {
			return next, nil
		}
		reasons = multierr.Append(reasons, nextErr)
	}

	order, err := ReadBootOrder(m.store)
	if err != nil {
		m.log.Info("cannot read boot order", "error", err.Error())
		return nil, err
	}
	m.log.V(1).Info("boot order", "entries", len(order))

	for _, id := range order {
		r, skipErr := m.attempt(ctx, id)
		if skipErr == nil {
			return r, nil
		}
		reasons = multierr.Append(reasons, skipErr)
	}

	if reasons == nil {
		return nil, fmt.Errorf("%w: boot order is empty", ErrNoBootableEntry)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBootableEntry, reasons)
}

// tryBootNext attempts the option named by BootNext. A nil result and nil
// error mean there was nothing to try. BootNext is consumed before the
// attempt when the store supports deletion.
func (m *Manager) tryBootNext(ctx context.Context) (*Result, error) {
	data, err := m.store.Get(efi.BootNextName)
	if err != nil {
		if !errors.Is(err, varstore.ErrNotFound) {
			m.log.Info("cannot read BootNext", "error", err.Error())
		}
		return nil, nil
	}
	id, err := efi.ParseBootNext(data)
	if err != nil {
		m.log.Info("ignoring BootNext", "error", err.Error())
		return nil, nil
	}

	if d, ok := m.store.(varstore.Deleter); ok {
		if err := d.Delete(efi.BootNextName); err != nil {
			m.log.Error(err, "failed to delete BootNext")
		}
	}

	m.log.V(1).Info("trying BootNext", "name", efi.BootOptionName(id))
	return m.attempt(ctx, id)
}

// attempt fetches, decodes and loads a single boot option.
func (m *Manager) attempt(ctx context.Context, id uint16) (*Result, error) {
	name := efi.BootOptionName(id)

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "attempt",
		trace.WithAttributes(attribute.String("bootmgr.option", name)),
	)
	defer span.End()

	skip := func(outcome string, err error) (*Result, error) {
		serr := &skipError{name: name, outcome: outcome, err: err}
		m.metrics.attempt(outcome)
		m.log.V(1).Info("skipping boot option", "name", name, "reason", serr.Error())
		span.SetAttributes(attribute.String("bootmgr.outcome", outcome))
		span.SetStatus(codes.Error, serr.Error())
		return nil, serr
	}

	data, err := m.store.Get(name)
	if err != nil {
		return skip(outcomeMissing, err)
	}
	opt, err := efi.DecodeLoadOption(data)
	if err != nil {
		return skip(outcomeCorrupt, err)
	}
	if !opt.Active() {
		return skip(outcomeInactive, errInactive)
	}

	img, err := m.loader.LoadImage(ctx, opt.FilePath)
	if err != nil {
		return skip(outcomeFailed, err)
	}

	device, file := m.loader.SplitPath(opt.FilePath)
	m.metrics.attempt(outcomeLoaded)
	span.SetAttributes(attribute.String("bootmgr.outcome", outcomeLoaded))
	span.SetStatus(codes.Ok, "image loaded")
	m.log.Info("loaded boot option", "name", name, "label", opt.Description(),
		"devicePath", device.String(), "filePath", file.FilePathString(), "size", img.Size)

	return &Result{
		ID:         id,
		Name:       name,
		Option:     opt,
		Image:      img,
		DevicePath: device,
		FilePath:   file,
	}, nil
}

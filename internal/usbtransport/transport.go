// Package usbtransport owns the USB bulk connection to the Switch. It knows
// nothing about the install protocol: it exposes timed reads and writes and
// classifies failures into kinds the caller can act on.
package usbtransport

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/google/gousb"

	"github.com/dbihost/dbihost/internal/logger"
)

// Config selects the target device and the two timeout classes used for
// bulk I/O.
type Config struct {
	VendorID     gousb.ID
	ProductID    gousb.ID
	Interface    int
	ShortTimeout time.Duration // polling the command header; timeouts expected
	LongTimeout  time.Duration // waiting on a committed reply
}

// DefaultConfig returns the Nintendo Switch / DBI vendor-product pair and
// the reference short/long timeout classes.
func DefaultConfig() Config {
	return Config{
		VendorID:     0x057e,
		ProductID:    0x3000,
		Interface:    0,
		ShortTimeout: 100 * time.Millisecond,
		LongTimeout:  30 * time.Second,
	}
}

// Kind classifies a transport failure so the caller can decide whether to
// retry, reconnect, or abort.
type Kind int

const (
	KindOther Kind = iota
	KindTimeout
	KindPipeOrIO
	KindNoDevice
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindPipeOrIO:
		return "pipe_or_io"
	case KindNoDevice:
		return "no_device"
	default:
		return "other"
	}
}

// TransportError wraps an underlying USB error with a Kind the server's
// poll loop can switch on.
type TransportError struct {
	Kind Kind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("usbtransport: %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func classify(err error) *TransportError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TransportError{Kind: KindTimeout, Err: err}
	case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.EIO),
		errors.Is(err, gousb.ErrorPipe), errors.Is(err, gousb.ErrorIO):
		return &TransportError{Kind: KindPipeOrIO, Err: err}
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.ErrorNotFound):
		return &TransportError{Kind: KindNoDevice, Err: err}
	default:
		return &TransportError{Kind: KindOther, Err: err}
	}
}

// Transport is a connected handle to the Switch's bulk endpoints.
type Transport struct {
	cfg     Config
	ctx     *gousb.Context
	ownsCtx bool
	dev     *gousb.Device
	gconf   *gousb.Config
	intf    *gousb.Interface
	epIn    *gousb.InEndpoint
	epOut   *gousb.OutEndpoint
}

// Connect opens the device matching cfg's vendor/product pair, resets and
// reopens it, activates configuration 1, claims the configured interface, and
// locates its bulk IN/OUT endpoints.
// usbCtx may be nil, in which case a fresh gousb.Context is created and
// owned by the returned Transport.
func Connect(usbCtx *gousb.Context, cfg Config) (*Transport, error) {
	ownsCtx := usbCtx == nil
	ctx := usbCtx
	if ctx == nil {
		ctx = gousb.NewContext()
	}

	logCandidates(ctx, cfg)

	dev, err := ctx.OpenDeviceWithVIDPID(cfg.VendorID, cfg.ProductID)
	if err != nil || dev == nil {
		if ownsCtx {
			ctx.Close()
		}
		if err == nil {
			err = fmt.Errorf("device %s:%s not found", cfg.VendorID, cfg.ProductID)
		}
		return nil, classify(err)
	}

	// Best-effort reset: a device that was already reset refuses a second
	// one, so errors here are logged, not fatal.
	if err := dev.Reset(); err != nil {
		logger.Debug("usb device reset failed, continuing", logger.Err(err))
	}
	time.Sleep(500 * time.Millisecond)

	// Reopen: a reset can re-enumerate the device and invalidate the handle.
	dev.Close()
	dev, err = ctx.OpenDeviceWithVIDPID(cfg.VendorID, cfg.ProductID)
	if err != nil || dev == nil {
		if ownsCtx {
			ctx.Close()
		}
		if err == nil {
			err = fmt.Errorf("device %s:%s not found after reset", cfg.VendorID, cfg.ProductID)
		}
		return nil, classify(err)
	}

	gconf, err := dev.Config(1)
	if err != nil {
		dev.Close()
		if ownsCtx {
			ctx.Close()
		}
		return nil, classify(fmt.Errorf("activate config 1: %w", err))
	}

	intf, err := gconf.Interface(cfg.Interface, 0)
	if err != nil {
		gconf.Close()
		dev.Close()
		if ownsCtx {
			ctx.Close()
		}
		return nil, classify(fmt.Errorf("claim interface %d: %w", cfg.Interface, err))
	}

	epIn, epOut, err := findEndpoints(intf)
	if err != nil {
		intf.Close()
		gconf.Close()
		dev.Close()
		if ownsCtx {
			ctx.Close()
		}
		return nil, classify(err)
	}

	return &Transport{
		cfg:     cfg,
		ctx:     ctx,
		ownsCtx: ownsCtx,
		dev:     dev,
		gconf:   gconf,
		intf:    intf,
		epIn:    epIn,
		epOut:   epOut,
	}, nil
}

func logCandidates(ctx *gousb.Context, cfg Config) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		logger.Debug("usb candidate device", logger.VendorID(uint16(desc.Vendor)), logger.ProductID(uint16(desc.Product)))
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		logger.Debug("usb device enumeration failed", logger.Err(err))
	}
}

func findEndpoints(intf *gousb.Interface) (*gousb.InEndpoint, *gousb.OutEndpoint, error) {
	var epIn *gousb.InEndpoint
	var epOut *gousb.OutEndpoint

	for _, desc := range intf.Setting.Endpoints {
		if epIn == nil && desc.Direction == gousb.EndpointDirectionIn {
			in, err := intf.InEndpoint(int(desc.Number))
			if err == nil {
				epIn = in
			}
		}
		if epOut == nil && desc.Direction == gousb.EndpointDirectionOut {
			out, err := intf.OutEndpoint(int(desc.Number))
			if err == nil {
				epOut = out
			}
		}
	}

	if epIn == nil {
		return nil, nil, fmt.Errorf("no bulk IN endpoint found on interface")
	}
	if epOut == nil {
		return nil, nil, fmt.Errorf("no bulk OUT endpoint found on interface")
	}
	return epIn, epOut, nil
}

// Close releases the interface, config, device, and (if owned) context in
// reverse acquisition order.
func (t *Transport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.gconf != nil {
		t.gconf.Close()
	}
	if t.dev != nil {
		t.dev.Close()
	}
	if t.ownsCtx && t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}

// ReadShort reads up to len(buf) bytes using the short timeout class, used
// for polling the command header. A timeout here is expected and non-fatal.
func (t *Transport) ReadShort(buf []byte) (int, error) {
	return t.read(buf, t.cfg.ShortTimeout)
}

// ReadLong reads up to len(buf) bytes using the long timeout class, used
// once the protocol has committed to a transaction.
func (t *Transport) ReadLong(buf []byte) (int, error) {
	return t.read(buf, t.cfg.LongTimeout)
}

func (t *Transport) read(buf []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := t.epIn.ReadContext(ctx, buf)
	if err != nil {
		return n, classify(err)
	}
	return n, nil
}

// WriteLong writes buf in full using the long timeout class.
func (t *Transport) WriteLong(buf []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.LongTimeout)
	defer cancel()
	_, err := t.epOut.WriteContext(ctx, buf)
	if err != nil {
		return classify(err)
	}
	return nil
}

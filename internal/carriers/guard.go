package carriers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"label-settlement-go/internal/models"
)

var (
	// ErrCarrierTimeout means the call was abandoned before the carrier
	// committed anything. Retrying is safe.
	ErrCarrierTimeout = errors.New("carrier call timed out")

	// ErrOutcomeUnknown means a label request timed out or was cancelled
	// mid-flight. The carrier may still have issued the label, so the purchase
	// needs manual review.
	ErrOutcomeUnknown = errors.New("carrier label outcome unknown")
)

type Timeouts struct {
	Init     time.Duration
	Products time.Duration
	Label    time.Duration
	Default  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Init:     15 * time.Second,
		Products: 20 * time.Second,
		Label:    45 * time.Second,
		Default:  20 * time.Second,
	}
}

func (t Timeouts) orDefault(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return t.Default
}

type guarded struct {
	inner    Adapter
	timeouts Timeouts
}

// Guard bounds every call on a with a deadline, including calls that ignore
// their context.
func Guard(a Adapter, t Timeouts) Adapter {
	if g, ok := a.(*guarded); ok {
		return g
	}
	return &guarded{inner: a, timeouts: t}
}

// Unwrap returns the adapter underneath any Guard.
func Unwrap(a Adapter) Adapter {
	if g, ok := a.(*guarded); ok {
		return g.inner
	}
	return a
}

func (g *guarded) Init(ctx context.Context) error {
	_, err := bounded(ctx, g.timeouts.orDefault(g.timeouts.Init), ErrCarrierTimeout, nil, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.Init(ctx)
	})
	return err
}

func (g *guarded) Products(ctx context.Context, shipment *models.Shipment) ([]models.Product, error) {
	return bounded(ctx, g.timeouts.orDefault(g.timeouts.Products), ErrCarrierTimeout, nil, func(ctx context.Context) ([]models.Product, error) {
		return g.inner.Products(ctx, shipment)
	})
}

func (g *guarded) Label(ctx context.Context, shipment *models.Shipment, product models.Product) (*LabelResult, error) {
	return bounded(ctx, g.timeouts.orDefault(g.timeouts.Label), ErrOutcomeUnknown, ErrOutcomeUnknown, func(ctx context.Context) (*LabelResult, error) {
		return g.inner.Label(ctx, shipment, product)
	})
}

// AsAddressValidator returns a's address validation capability, if it has one.
func AsAddressValidator(a Adapter) (AddressValidator, bool) {
	g, wrapped := a.(*guarded)
	v, ok := Unwrap(a).(AddressValidator)
	if !ok {
		return nil, false
	}
	if !wrapped {
		return v, true
	}
	return addressValidatorFunc(func(ctx context.Context, addr models.Address) (*models.Address, error) {
		return bounded(ctx, g.timeouts.Default, ErrCarrierTimeout, nil, func(ctx context.Context) (*models.Address, error) {
			return v.ValidateAddress(ctx, addr)
		})
	}), true
}

func AsManifestCreator(a Adapter) (ManifestCreator, bool) {
	g, wrapped := a.(*guarded)
	m, ok := Unwrap(a).(ManifestCreator)
	if !ok {
		return nil, false
	}
	if !wrapped {
		return m, true
	}
	return manifestCreatorFunc(func(ctx context.Context, shipments []models.Shipment) (*Manifest, error) {
		return bounded(ctx, g.timeouts.Default, ErrCarrierTimeout, nil, func(ctx context.Context) (*Manifest, error) {
			return m.CreateManifest(ctx, shipments)
		})
	}), true
}

func AsManifestGetter(a Adapter) (ManifestGetter, bool) {
	g, wrapped := a.(*guarded)
	m, ok := Unwrap(a).(ManifestGetter)
	if !ok {
		return nil, false
	}
	if !wrapped {
		return m, true
	}
	return manifestGetterFunc(func(ctx context.Context, id string) (*Manifest, error) {
		return bounded(ctx, g.timeouts.Default, ErrCarrierTimeout, nil, func(ctx context.Context) (*Manifest, error) {
			return m.GetManifest(ctx, id)
		})
	}), true
}

func AsTrackingProvider(a Adapter) (TrackingProvider, bool) {
	g, wrapped := a.(*guarded)
	p, ok := Unwrap(a).(TrackingProvider)
	if !ok {
		return nil, false
	}
	if !wrapped {
		return p, true
	}
	return trackingProviderFunc(func(ctx context.Context, id string) (*TrackingInfo, error) {
		return bounded(ctx, g.timeouts.Default, ErrCarrierTimeout, nil, func(ctx context.Context) (*TrackingInfo, error) {
			return p.GetTrackingInfo(ctx, id)
		})
	}), true
}

type addressValidatorFunc func(context.Context, models.Address) (*models.Address, error)

func (f addressValidatorFunc) ValidateAddress(ctx context.Context, a models.Address) (*models.Address, error) {
	return f(ctx, a)
}

type manifestCreatorFunc func(context.Context, []models.Shipment) (*Manifest, error)

func (f manifestCreatorFunc) CreateManifest(ctx context.Context, s []models.Shipment) (*Manifest, error) {
	return f(ctx, s)
}

type manifestGetterFunc func(context.Context, string) (*Manifest, error)

func (f manifestGetterFunc) GetManifest(ctx context.Context, id string) (*Manifest, error) {
	return f(ctx, id)
}

type trackingProviderFunc func(context.Context, string) (*TrackingInfo, error)

func (f trackingProviderFunc) GetTrackingInfo(ctx context.Context, id string) (*TrackingInfo, error) {
	return f(ctx, id)
}

type outcome[T any] struct {
	val T
	err error
}

// bounded runs fn with a deadline of d. If the deadline passes first the call
// is abandoned and timeoutErr returned. Cancellation by the caller is returned
// as is, or wrapped in cancelErr when one is given.
func bounded[T any](ctx context.Context, d time.Duration, timeoutErr, cancelErr error, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	cancelled := func() error {
		if cancelErr != nil {
			return fmt.Errorf("%w: %w", cancelErr, ctx.Err())
		}
		return ctx.Err()
	}
	if d <= 0 {
		v, err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return zero, cancelled()
		}
		return v, err
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(cctx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.val, nil
		}
		if ctx.Err() != nil {
			return zero, cancelled()
		}
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s: %v", timeoutErr, d, out.err)
		}
		return out.val, out.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, cancelled()
		}
		return zero, fmt.Errorf("%w after %s", timeoutErr, d)
	}
}

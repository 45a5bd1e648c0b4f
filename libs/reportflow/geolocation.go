package reportflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PositionRequest mirrors the options a device positioning API accepts.
type PositionRequest struct {
	HighAccuracy bool
	MaximumAge   time.Duration
}

// PositionSource is the device capability behind the Geolocator.
type PositionSource interface {
	CurrentPosition(ctx context.Context, req PositionRequest) (Coordinate, error)
}

// PositionFunc adapts a platform callback to PositionSource.
type PositionFunc func(ctx context.Context, req PositionRequest) (Coordinate, error)

func (f PositionFunc) CurrentPosition(ctx context.Context, req PositionRequest) (Coordinate, error) {
	return f(ctx, req)
}

// StaticSource always answers with the same fix, or with Err when set.
type StaticSource struct {
	Position Coordinate
	Err      error
}

func (s StaticSource) CurrentPosition(ctx context.Context, _ PositionRequest) (Coordinate, error) {
	if s.Err != nil {
		return Coordinate{}, s.Err
	}
	return s.Position, nil
}

// Geolocator issues single, non-retried position requests.
type Geolocator struct {
	source PositionSource
}

func NewGeolocator(source PositionSource) *Geolocator {
	return &Geolocator{source: source}
}

// Acquire resolves with one fix or fails with ErrUnavailable, ErrPermissionDenied
// or ErrTimeout. A late answer from the source after the timeout is dropped.
func (g *Geolocator) Acquire(ctx context.Context, highAccuracy bool, timeout time.Duration) (Coordinate, error) {
	if g == nil || g.source == nil {
		return Coordinate{}, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		coord Coordinate
		err   error
	}
	done := make(chan result, 1)
	go func() {
		coord, err := g.source.CurrentPosition(ctx, PositionRequest{HighAccuracy: highAccuracy})
		done <- result{coord: coord, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Coordinate{}, classifyPositionError(res.err)
		}
		if !res.coord.valid() {
			return Coordinate{}, fmt.Errorf("%w: invalid fix", ErrUnavailable)
		}
		return res.coord, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Coordinate{}, ErrTimeout
		}
		return Coordinate{}, ctx.Err()
	}
}

func classifyPositionError(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

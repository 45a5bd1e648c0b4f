package reportflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireWithoutSourceIsUnavailable(t *testing.T) {
	_, err := NewGeolocator(nil).Acquire(context.Background(), true, time.Second)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestAcquireTimesOutOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	defer close(release)
	blocking := PositionFunc(func(ctx context.Context, req PositionRequest) (Coordinate, error) {
		calls.Add(1)
		<-release
		return downtown, nil
	})

	start := time.Now()
	_, err := NewGeolocator(blocking).Acquire(context.Background(), true, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
	if n := calls.Load(); n > 1 {
		t.Fatalf("expected a single request, got %d", n)
	}
}

func TestAcquireClassifiesErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "denied", err: ErrPermissionDenied, want: ErrPermissionDenied},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrTimeout},
		{name: "other", err: errors.New("no satellites"), want: ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGeolocator(StaticSource{Err: tc.err}).Acquire(context.Background(), false, time.Second)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAcquirePassesAccuracyFlag(t *testing.T) {
	var got PositionRequest
	source := PositionFunc(func(ctx context.Context, req PositionRequest) (Coordinate, error) {
		got = req
		return downtown, nil
	})

	coord, err := NewGeolocator(source).Acquire(context.Background(), true, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if coord != downtown || !got.HighAccuracy {
		t.Fatalf("unexpected result %+v with request %+v", coord, got)
	}
}

// Package window fetches a long history through an endpoint that only
// accepts bounded date ranges, sizing each range from the density of the
// previous one.
package window

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("siteadapters.lib.browser.window")
var meter = otel.Meter("siteadapters.lib.browser.window")
var windowSizeHistogram, _ = meter.Int64Histogram("window.size")

var ErrInvalidWindow = errors.New("invalid window options")

const (
	DefaultDensity = 40
	DefaultFactor  = 1.5
)

const day = 24 * time.Hour

// FetchWindow is one bounded request, Start and End are inclusive days.
type FetchWindow struct {
	Start time.Time
	End   time.Time
	// Size is the step (in days) the window was computed with
	Size int
}

func (w FetchWindow) String() string {
	return fmt.Sprintf("%s..%s (%dd)", w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly), w.Size)
}

type FetchFunc[T any] func(ctx context.Context, w FetchWindow) ([]T, error)

type Options[T any] struct {
	// smallest and largest step in days
	MinWindow int
	MaxWindow int
	// a batch larger than this shrinks the next step, must be >= 1.
	// 0 means DefaultDensity.
	Density int
	// must be > 1, 0 means DefaultFactor
	Factor float64
	// sorts each window's batch before it is yielded
	Less func(a, b T) int
	// called after every window with the size of its batch
	OnWindow func(w FetchWindow, n int)
}

func (o Options[T]) withDefaults() Options[T] {
	if o.Density == 0 {
		o.Density = DefaultDensity
	}
	if o.Factor == 0 {
		o.Factor = DefaultFactor
	}
	return o
}

// Validate checks the options once the defaults are applied.
func (o Options[T]) Validate() error {
	o = o.withDefaults()
	if o.MinWindow < 1 {
		return fmt.Errorf("%w: min window %d < 1", ErrInvalidWindow, o.MinWindow)
	}
	if o.MinWindow > o.MaxWindow {
		return fmt.Errorf("%w: min window %d > max window %d", ErrInvalidWindow, o.MinWindow, o.MaxWindow)
	}
	if o.Factor <= 1 {
		return fmt.Errorf("%w: growth factor %v <= 1", ErrInvalidWindow, o.Factor)
	}
	if o.Density < 1 {
		return fmt.Errorf("%w: density %d < 1", ErrInvalidWindow, o.Density)
	}
	return nil
}

// NextStep applies the feedback rule to the current step.
func (o Options[T]) NextStep(step, batch int) int {
	if batch > o.Density {
		return max(o.MinWindow, int(math.Floor(float64(step)/o.Factor)))
	}
	return min(o.MaxWindow, int(math.Ceil(float64(step)*o.Factor)))
}

// Truncate strips the clock from t, keeping its location.
func Truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// FetchRange walks backwards from end to begin (both inclusive days). The
// first window covers MinWindow days, each following window grows or
// shrinks by Factor depending on whether the previous batch exceeded
// Density. Every day of the range is covered by exactly one window and the
// walk ends after at most ceil((end-begin)/MinWindow) windows.
//
// A failing window is yielded as an error and ends the walk, items yielded
// before it stay valid.
func FetchRange[T any](
	ctx context.Context,
	begin, end time.Time,
	opts Options[T],
	fetch FetchFunc[T],
) iter.Seq2[T, error] {
	opts = opts.withDefaults()

	return func(yield func(T, error) bool) {
		var zero T
		if err := opts.Validate(); err != nil {
			yield(zero, err)
			return
		}
		if fetch == nil {
			yield(zero, fmt.Errorf("%w: nil fetch func", ErrInvalidWindow))
			return
		}

		begin := Truncate(begin)
		currentEnd := Truncate(end)

		ctx, span := tracer.Start(ctx, "window:FetchRange")
		defer span.End()
		span.SetAttributes(
			attribute.String("begin", begin.Format(time.DateOnly)),
			attribute.String("end", currentEnd.Format(time.DateOnly)),
		)

		step := opts.MinWindow
		windows := 0
		for !currentEnd.Before(begin) {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			start := currentEnd.AddDate(0, 0, -step)
			if start.Before(begin) {
				start = begin
			}
			w := FetchWindow{Start: start, End: currentEnd, Size: step}

			batch, err := fetch(ctx, w)
			windows++
			if err != nil {
				err = fmt.Errorf("window %s: %w", w, err)
				span.RecordError(err)
				span.SetStatus(codes.Error, "window fetch failed")
				yield(zero, err)
				return
			}
			windowSizeHistogram.Record(ctx, int64(step))
			if opts.OnWindow != nil {
				opts.OnWindow(w, len(batch))
			}

			currentEnd = start.AddDate(0, 0, -1)
			step = opts.NextStep(step, len(batch))

			if opts.Less != nil {
				batch = slices.Clone(batch)
				slices.SortStableFunc(batch, opts.Less)
			}
			for _, item := range batch {
				if !yield(item, nil) {
					return
				}
			}
		}
		span.SetAttributes(attribute.Int("windows", windows))
	}
}

package window

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func days(w FetchWindow) int {
	return int(w.End.Sub(w.Start)/day) + 1
}

// perThirtyDays returns a fetch func producing n items for every 30 days of
// the window.
func perThirtyDays(n int, windows *[]FetchWindow) FetchFunc[int] {
	return func(_ context.Context, w FetchWindow) ([]int, error) {
		*windows = append(*windows, w)
		count := int(math.Ceil(float64(n*days(w)) / 30))
		out := make([]int, count)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
}

func steps(windows []FetchWindow) []int {
	out := make([]int, len(windows))
	for i, w := range windows {
		out[i] = w.Size
	}
	return out
}

func TestFetchRangeGrowsInSparsePeriods(t *testing.T) {
	var windows []FetchWindow
	seq := FetchRange(
		context.Background(),
		date(2020, 1, 1), date(2020, 12, 31),
		Options[int]{MinWindow: 7, MaxWindow: 180, Density: 40},
		perThirtyDays(5, &windows),
	)
	for _, err := range seq {
		require.NoError(t, err)
	}

	require.Equal(t, []int{7, 11, 17, 26, 39, 59, 89, 134}, steps(windows))
}

func TestFetchRangeShrinksInDensePeriods(t *testing.T) {
	var windows []FetchWindow
	seq := FetchRange(
		context.Background(),
		date(2020, 1, 1), date(2020, 12, 31),
		Options[int]{MinWindow: 7, MaxWindow: 180, Density: 40},
		perThirtyDays(200, &windows),
	)
	for _, err := range seq {
		require.NoError(t, err)
	}
	for _, w := range windows {
		require.Equal(t, 7, w.Size)
	}

	// sparse at the end of the year, dense before october
	windows = nil
	dense := date(2020, 10, 1)
	sparse := perThirtyDays(5, &windows)
	var denseWindows []FetchWindow
	crowded := perThirtyDays(200, &denseWindows)
	seq = FetchRange(
		context.Background(),
		date(2020, 1, 1), date(2020, 12, 31),
		Options[int]{MinWindow: 7, MaxWindow: 180, Density: 40},
		func(ctx context.Context, w FetchWindow) ([]int, error) {
			if w.Start.Before(dense) {
				windows = append(windows, w)
				return crowded(ctx, w)
			}
			return sparse(ctx, w)
		},
	)
	for _, err := range seq {
		require.NoError(t, err)
	}

	sizes := steps(windows)
	require.Greater(t, sizes[3], sizes[0])
	require.Equal(t, 7, sizes[len(sizes)-1])
	for i := 1; i < len(sizes); i++ {
		if windows[i-1].Start.Before(dense) {
			require.LessOrEqual(t, sizes[i], sizes[i-1])
		}
	}
}

func TestFetchRangeWindows(t *testing.T) {
	var windows []FetchWindow
	seq := FetchRange(
		context.Background(),
		date(2020, 1, 1), date(2020, 1, 31),
		Options[int]{MinWindow: 2, MaxWindow: 8},
		perThirtyDays(0, &windows),
	)
	for _, err := range seq {
		require.NoError(t, err)
	}

	expected := []FetchWindow{
		{Start: date(2020, 1, 29), End: date(2020, 1, 31), Size: 2},
		{Start: date(2020, 1, 25), End: date(2020, 1, 28), Size: 3},
		{Start: date(2020, 1, 19), End: date(2020, 1, 24), Size: 5},
		{Start: date(2020, 1, 10), End: date(2020, 1, 18), Size: 8},
		{Start: date(2020, 1, 1), End: date(2020, 1, 9), Size: 8},
	}
	if diff := cmp.Diff(expected, windows); diff != "" {
		t.Fatalf("unexpected windows (-want +got):\n%s", diff)
	}
}

func TestFetchRangeTerminates(t *testing.T) {
	testCases := []struct {
		begin, end time.Time
		min, max   int
		perMonth   int
	}{
		{date(2020, 1, 1), date(2020, 12, 31), 7, 180, 5},
		{date(2020, 1, 1), date(2020, 12, 31), 7, 180, 200},
		{date(2019, 3, 1), date(2021, 2, 28), 1, 1, 0},
		{date(2019, 3, 1), date(2021, 2, 28), 30, 730, 41},
		{date(2021, 5, 5), date(2021, 5, 6), 10, 20, 1000},
		{date(2015, 1, 1), date(2021, 1, 1), 3, 365, 39},
	}

	for _, test := range testCases {
		var windows []FetchWindow
		for _, err := range FetchRange(
			context.Background(),
			test.begin, test.end,
			Options[int]{MinWindow: test.min, MaxWindow: test.max},
			perThirtyDays(test.perMonth, &windows),
		) {
			require.NoError(t, err)
		}

		span := int(test.end.Sub(test.begin) / day)
		bound := int(math.Ceil(float64(span) / float64(test.min)))
		require.LessOrEqual(t, len(windows), bound)

		// windows are contiguous, walk backwards and cover the whole range
		require.Equal(t, test.end, windows[0].End)
		require.Equal(t, test.begin, windows[len(windows)-1].Start)
		for i := 1; i < len(windows); i++ {
			require.True(t, windows[i].End.Before(windows[i-1].End))
			require.Equal(t, windows[i-1].Start.AddDate(0, 0, -1), windows[i].End)
			require.GreaterOrEqual(t, windows[i].Size, test.min)
			require.LessOrEqual(t, windows[i].Size, test.max)
		}
	}
}

func TestFetchRangeValidation(t *testing.T) {
	testCases := []Options[int]{
		{MinWindow: 30, MaxWindow: 7},
		{MinWindow: 0, MaxWindow: 7},
		{MinWindow: 1, MaxWindow: 7, Factor: 1},
		{MinWindow: 1, MaxWindow: 7, Density: -1},
		{MinWindow: 1, MaxWindow: 7, Factor: -2},
	}
	for _, opts := range testCases {
		called := false
		for _, err := range FetchRange(
			context.Background(),
			date(2020, 1, 1), date(2020, 2, 1),
			opts,
			func(context.Context, FetchWindow) ([]int, error) {
				called = true
				return nil, nil
			},
		) {
			require.ErrorIs(t, err, ErrInvalidWindow)
		}
		require.False(t, called)
	}
}

func TestOptionsValidate(t *testing.T) {
	// zero density and factor select the defaults
	require.NoError(t, Options[int]{MinWindow: 1, MaxWindow: 7}.Validate())
	require.NoError(t, Options[int]{MinWindow: 1, MaxWindow: 7, Density: 1, Factor: 1.1}.Validate())
	require.ErrorIs(t, Options[int]{MinWindow: 1, MaxWindow: 7, Density: -5}.Validate(), ErrInvalidWindow)
	require.ErrorIs(t, Options[int]{MinWindow: 1, MaxWindow: 7, Factor: 0.5}.Validate(), ErrInvalidWindow)

	opts := Options[int]{MinWindow: 1, MaxWindow: 7, Density: 1}.withDefaults()
	require.Equal(t, 1, opts.Density)
	require.Equal(t, DefaultFactor, opts.Factor)
	// a batch of two exceeds a density of one
	require.Equal(t, 2, opts.NextStep(3, 2))
	require.Equal(t, 5, opts.NextStep(3, 1))
}

func TestFetchRangeEmptyRange(t *testing.T) {
	called := false
	for range FetchRange(
		context.Background(),
		date(2020, 2, 1), date(2020, 1, 1),
		Options[int]{MinWindow: 1, MaxWindow: 2},
		func(context.Context, FetchWindow) ([]int, error) {
			called = true
			return nil, nil
		},
	) {
		t.Fatal("expected no items")
	}
	require.False(t, called)
}

func TestFetchRangeFailureAborts(t *testing.T) {
	calls := 0
	var got []int
	var gotErr error
	for item, err := range FetchRange(
		context.Background(),
		date(2020, 1, 1), date(2020, 12, 31),
		Options[int]{MinWindow: 7, MaxWindow: 180},
		func(context.Context, FetchWindow) ([]int, error) {
			calls++
			if calls == 2 {
				return nil, context.DeadlineExceeded
			}
			return []int{calls}, nil
		},
	) {
		if err != nil {
			gotErr = err
			continue
		}
		got = append(got, item)
	}

	require.ErrorIs(t, gotErr, context.DeadlineExceeded)
	require.Equal(t, []int{1}, got)
	require.Equal(t, 2, calls)
}

func TestFetchRangeStopsWhenAbandoned(t *testing.T) {
	calls := 0
	for item, err := range FetchRange(
		context.Background(),
		date(2020, 1, 1), date(2020, 12, 31),
		Options[int]{MinWindow: 7, MaxWindow: 180},
		func(context.Context, FetchWindow) ([]int, error) {
			calls++
			return []int{1, 2, 3}, nil
		},
	) {
		require.NoError(t, err)
		if item == 1 {
			break
		}
	}
	require.Equal(t, 1, calls)
}

func TestFetchRangeSortsEachWindow(t *testing.T) {
	var got []time.Time
	for item, err := range FetchRange(
		context.Background(),
		date(2020, 1, 1), date(2020, 1, 10),
		Options[time.Time]{
			MinWindow: 4,
			MaxWindow: 4,
			Less:      func(a, b time.Time) int { return b.Compare(a) },
		},
		func(_ context.Context, w FetchWindow) ([]time.Time, error) {
			// unsorted inside the window
			return []time.Time{w.Start, w.End, w.Start.AddDate(0, 0, 1)}, nil
		},
	) {
		require.NoError(t, err)
		got = append(got, item)
	}

	for i := 1; i < len(got); i++ {
		require.False(t, got[i].After(got[i-1]), "items are not in reverse chronological order")
	}
}

func TestNextStep(t *testing.T) {
	opts := Options[int]{MinWindow: 30, MaxWindow: 180}.withDefaults()
	require.Equal(t, 45, opts.NextStep(30, 0))
	require.Equal(t, 45, opts.NextStep(30, 40))
	require.Equal(t, 30, opts.NextStep(30, 41))
	require.Equal(t, 66, opts.NextStep(100, 41))
	require.Equal(t, 180, opts.NextStep(150, 10))
	require.NoError(t, opts.Validate())
	require.True(t, errors.Is(Options[int]{MinWindow: 2, MaxWindow: 1}.withDefaults().Validate(), ErrInvalidWindow))
}

// Package paginate turns a paged listing into a lazy sequence of items.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"siteadapters/lib/browser"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("siteadapters.lib.browser.paginate")

var ErrNotFound = errors.New("not found")

// ErrPageLimit ends a traversal that stopped at Options.MaxPages while the
// listing still had a next page.
var ErrPageLimit = errors.New("page limit reached")

// LoopError is returned when a traversal sees an item identity or a next
// request a second time.
type LoopError struct {
	// the repeated item identity, empty when the request itself repeated
	Identity string
	Request  string
	Page     int
}

func (e *LoopError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("pagination loop detected on page %d: item %q was already seen", e.Page, e.Identity)
	}
	return fmt.Sprintf("pagination loop detected on page %d: %s was already requested", e.Page, e.Request)
}

func (e *LoopError) Is(target error) bool {
	return target == browser.ErrPaginationLoop
}

// Page is what an Extractor reads from one response. A nil Next ends the
// traversal.
type Page[T any] struct {
	Items []T
	Next  *browser.RequestSpec
}

type Extractor[T any] func(h browser.PageHandle) (Page[T], error)

// Lister is implemented by list pages that can extract themselves.
type Lister[T any] interface {
	Items() ([]T, error)
	Next() (*browser.RequestSpec, error)
}

// FromLister is an Extractor for pages implementing Lister[T].
func FromLister[T any]() Extractor[T] {
	return func(h browser.PageHandle) (Page[T], error) {
		lister, err := browser.PageAs[Lister[T]](h)
		if err != nil {
			return Page[T]{}, err
		}
		items, err := lister.Items()
		if err != nil {
			return Page[T]{}, err
		}
		next, err := lister.Next()
		if err != nil {
			return Page[T]{}, err
		}
		return Page[T]{Items: items, Next: next}, nil
	}
}

type Options[T any] struct {
	Extract  Extractor[T]
	Identity func(T) string
	// reorders the items of a single page before they are yielded
	SortPage func(a, b T) int
	// stops after this many pages when > 0, ErrPageLimit is yielded when
	// more pages were left
	MaxPages int
}

// contextReporter is implemented by *browser.Session.
type contextReporter interface {
	ContextVersion() uint64
}

// Cursor is the state of one traversal.
type Cursor struct {
	next         *browser.RequestSpec
	seen         map[string]struct{}
	seenRequests map[string]struct{}
	page         int
}

func newCursor(first browser.RequestSpec) *Cursor {
	return &Cursor{
		next:         &first,
		seen:         map[string]struct{}{},
		seenRequests: map[string]struct{}{},
	}
}

func (c *Cursor) HasMore() bool {
	return c.next != nil
}

// Pages is the number of pages fetched so far.
func (c *Cursor) Pages() int {
	return c.page
}

// admit registers the identities of a page, nothing is registered when one
// of them was already seen.
func (c *Cursor) admit(ids []string) error {
	pageIds := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		_, dup := c.seen[id]
		if !dup {
			_, dup = pageIds[id]
		}
		if dup {
			return &LoopError{Identity: id, Page: c.page}
		}
		pageIds[id] = struct{}{}
	}
	for id := range pageIds {
		c.seen[id] = struct{}{}
	}
	return nil
}

func (c *Cursor) advance(next *browser.RequestSpec) error {
	c.next = next
	if next == nil {
		return nil
	}
	key := next.Key()
	if _, dup := c.seenRequests[key]; dup {
		c.next = nil
		return &LoopError{Request: key, Page: c.page}
	}
	c.seenRequests[key] = struct{}{}
	return nil
}

// Iterate follows a listing from first until a page has no next request.
// Items are yielded in the order the site returns them (or SortPage order
// within a page). The first error is yielded once and ends the sequence.
func Iterate[T any](ctx context.Context, r browser.Requester, first browser.RequestSpec, opts Options[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if opts.Extract == nil || opts.Identity == nil {
			yield(zero, fmt.Errorf("paginate: Extract and Identity are required"))
			return
		}

		ctx, span := tracer.Start(ctx, "paginate:Iterate")
		defer span.End()
		span.SetAttributes(attribute.String("url", first.Url))

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(zero, err)
		}

		reporter, pinned := r.(contextReporter)
		var version uint64
		if pinned {
			version = reporter.ContextVersion()
		}

		cursor := newCursor(first)
		cursor.seenRequests[first.Key()] = struct{}{}

		for cursor.HasMore() {
			if opts.MaxPages > 0 && cursor.page >= opts.MaxPages {
				slog.WarnContext(ctx, "pagination stopped at page limit", "url", first.Url, "pages", cursor.page)
				span.SetAttributes(attribute.Int("pages", cursor.page), attribute.Bool("truncated", true))
				yield(zero, fmt.Errorf("%w: %d pages, next is %s", ErrPageLimit, cursor.page, cursor.next.Url))
				return
			}
			if pinned && reporter.ContextVersion() != version {
				fail(browser.ErrContextSwitched)
				return
			}
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			cursor.page++
			h, err := r.Request(ctx, *cursor.next)
			if err != nil {
				fail(fmt.Errorf("page %d: %w", cursor.page, err))
				return
			}
			page, err := opts.Extract(h)
			if err != nil {
				fail(fmt.Errorf("page %d: extract: %w", cursor.page, err))
				return
			}

			ids := make([]string, len(page.Items))
			for i, item := range page.Items {
				ids[i] = opts.Identity(item)
			}
			err = cursor.admit(ids)
			if err != nil {
				fail(err)
				return
			}

			items := page.Items
			if opts.SortPage != nil {
				items = slices.Clone(items)
				slices.SortStableFunc(items, opts.SortPage)
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}

			err = cursor.advance(page.Next)
			if err != nil {
				fail(err)
				return
			}
		}
		span.SetAttributes(attribute.Int("pages", cursor.page))
	}
}

// Collect drains seq, it returns the items read before the first error
// along with that error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Find returns the first item matching pred and stops the sequence there.
func Find[T any](seq iter.Seq2[T, error], pred func(T) bool) (T, error) {
	var zero T
	for item, err := range seq {
		if err != nil {
			return zero, err
		}
		if pred(item) {
			return item, nil
		}
	}
	return zero, ErrNotFound
}

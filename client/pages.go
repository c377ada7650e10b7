package client

import (
	"context"
	"iter"
	"sync/atomic"
)

// Page is one page of a paginated control-plane listing.
type Page[T any] struct {
	Items        []T  `json:"Items"`
	CurrentPage  int  `json:"CurrentPage"`
	TotalItems   int  `json:"TotalItems"`
	HasMoreItems bool `json:"HasMoreItems"`
}

// PageFunc fetches page number page, counted from 1.
type PageFunc[T any] func(ctx context.Context, page int) (Page[T], error)

// Paginate returns a lazy sequence over every item of a paginated listing.
// Each page is fetched only once the previous one has been consumed. The
// sequence ends when the provider reports no further items, returns an
// empty page, or once TotalItems items have been yielded. An error is
// yielded once and ends the sequence.
//
// The sequence is single-pass: ranging over it again yields
// [ErrSequenceConsumed].
func Paginate[T any](ctx context.Context, fetch PageFunc[T]) iter.Seq2[T, error] {
	return OnePass(func(yield func(T, error) bool) {
		var zero T
		yielded := 0

		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}

			p, err := fetch(ctx, page)
			if err != nil {
				yield(zero, err)
				return
			}

			for _, item := range p.Items {
				if !yield(item, nil) {
					return
				}
				yielded++
			}

			if !p.HasMoreItems || len(p.Items) == 0 {
				return
			}
			if p.TotalItems > 0 && yielded >= p.TotalItems {
				return
			}
		}
	})
}

// OnePass wraps seq so it can be ranged over only once. Later ranges yield
// a single [ErrSequenceConsumed].
func OnePass[T any](seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	var used atomic.Bool
	return func(yield func(T, error) bool) {
		if used.Swap(true) {
			var zero T
			yield(zero, ErrSequenceConsumed)
			return
		}
		seq(yield)
	}
}

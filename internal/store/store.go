// Package store holds the contracts shared by every persistence backend: sentinel errors,
// keyset pagination and the lazy sequence helper used by list operations.
package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Cursor identifies the last row of a page ordered by (created_at DESC, id DESC).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Page requests up to Limit rows strictly after After.
type Page struct {
	Limit int
	After *Cursor
}

// Normalize clamps Limit into [1, MaxPageSize].
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// Encode renders c as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Cursor.Encode. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("store: decode cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, errors.New("store: malformed cursor")
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("store: decode cursor: %w", err)
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// Iterate turns a page fetcher into a lazy, finite sequence. Every range over the result starts
// again from the first page; pages are only fetched while the consumer keeps pulling. A fetch
// error is yielded once and ends the sequence.
func Iterate[T any](ctx context.Context, pageSize int, fetch func(context.Context, Page) ([]T, error), cursorOf func(T) Cursor) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		page := Page{Limit: pageSize}.Normalize()
		for {
			items, err := fetch(ctx, page)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if len(items) < page.Limit {
				return
			}
			next := cursorOf(items[len(items)-1])
			page.After = &next
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
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

// Package catalog is the storefront's book list: it fetches books for a
// signed-in visitor and keeps a transient local copy that create and delete
// reconcile without re-fetching.
package catalog

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"bookstore/pkg/domain"
)

// BookClient is the subset of the backend book API the view needs.
type BookClient interface {
	ListBooks(token string) ([]domain.Book, error)
	CreateBook(token, title string, price decimal.Decimal) (domain.Book, error)
	DeleteBook(token string, id domain.ID) error
	Search(token, query string) ([]domain.Book, error)
}

// CoverSigner turns stored cover keys into fetchable URLs.
type CoverSigner interface {
	CoverURL(ctx context.Context, key string) (string, error)
}

// View owns one local book list. Separate views do not share it.
type View struct {
	books  BookClient
	covers CoverSigner

	mu      sync.Mutex
	list    []domain.Book
	lastErr error
}

// Option configures a View.
type Option func(*View)

// WithCoverSigner resolves relative cover references through signer.
func WithCoverSigner(signer CoverSigner) Option {
	return func(v *View) {
		v.covers = signer
	}
}

// NewView builds an empty view.
func NewView(books BookClient, opts ...Option) *View {
	v := &View{books: books, list: []domain.Book{}}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Load replaces the local list with the backend's when user is present and
// clears it otherwise. A failed fetch is logged, leaves the list empty and is
// kept for LastError; it is not returned. Overlapping loads are not ordered:
// whichever response arrives last wins.
func (v *View) Load(ctx context.Context, user *domain.User) []domain.Book {
	if user == nil {
		v.replace([]domain.Book{}, nil)
		return []domain.Book{}
	}
	books, err := v.books.ListBooks(user.AccessToken)
	if err != nil {
		err = serverError("list books", err)
		slog.Error("load books failed", "user_id", user.ID.String(), "err", err)
		v.replace([]domain.Book{}, err)
		return []domain.Book{}
	}
	books = v.resolveCovers(ctx, books)
	v.replace(books, nil)
	return v.Books()
}

// Create validates title and price, sends one create request and appends the
// record the backend echoed. The list is not re-fetched, so defaults the
// backend applies later are not visible until the next Load.
func (v *View) Create(ctx context.Context, user *domain.User, title, priceText string) (domain.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Book{}, &ValidationError{Field: "title", Message: "title is required"}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(priceText), 64)
	if err != nil {
		return domain.Book{}, &ValidationError{Field: "price", Message: "price must be a number"}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return domain.Book{}, &ValidationError{Field: "price", Message: "price must be a finite number"}
	}
	price := decimal.NewFromFloat(f)
	if price.IsNegative() {
		return domain.Book{}, &ValidationError{Field: "price", Message: "price must not be negative"}
	}
	if user == nil {
		return domain.Book{}, ErrNoSession
	}
	book, err := v.books.CreateBook(user.AccessToken, title, price)
	if err != nil {
		return domain.Book{}, serverError("create book", err)
	}
	book = v.resolveCovers(ctx, []domain.Book{book})[0]
	v.mu.Lock()
	v.list = append(v.list, book)
	v.mu.Unlock()
	return book, nil
}

// Delete removes id from the local list once the backend confirms. Ids that
// are not in the list leave it unchanged.
func (v *View) Delete(_ context.Context, user *domain.User, id domain.ID) error {
	if user == nil {
		return ErrNoSession
	}
	if strings.TrimSpace(id.String()) == "" {
		return &ValidationError{Field: "id", Message: "book id is required"}
	}
	if err := v.books.DeleteBook(user.AccessToken, id); err != nil {
		return serverError("delete book", err)
	}
	v.mu.Lock()
	filtered := make([]domain.Book, 0, len(v.list))
	for _, b := range v.list {
		if b.ID != id {
			filtered = append(filtered, b)
		}
	}
	v.list = filtered
	v.mu.Unlock()
	return nil
}

// Search queries the backend search endpoint. It does not touch the list.
func (v *View) Search(ctx context.Context, user *domain.User, query string) ([]domain.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Field: "query", Message: "search query cannot be empty"}
	}
	token := ""
	if user != nil {
		token = user.AccessToken
	}
	books, err := v.books.Search(token, query)
	if err != nil {
		return nil, serverError("search books", err)
	}
	return v.resolveCovers(ctx, books), nil
}

// Books returns a copy of the local list.
func (v *View) Books() []domain.Book {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Book, len(v.list))
	copy(out, v.list)
	return out
}

// Find returns the local record for id.
func (v *View) Find(id domain.ID) (domain.Book, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, b := range v.list {
		if b.ID == id {
			return b, true
		}
	}
	return domain.Book{}, false
}

// LastError returns the error of the most recent Load, if it failed.
func (v *View) LastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

func (v *View) replace(books []domain.Book, err error) {
	v.mu.Lock()
	v.list = books
	v.lastErr = err
	v.mu.Unlock()
}

func (v *View) resolveCovers(ctx context.Context, books []domain.Book) []domain.Book {
	if v.covers == nil {
		return books
	}
	for i := range books {
		ref := strings.TrimSpace(books[i].CoverURL)
		if ref == "" || isAbsolute(ref) {
			continue
		}
		url, err := v.covers.CoverURL(ctx, ref)
		if err != nil {
			slog.Warn("resolve cover failed", "book_id", books[i].ID.String(), "err", err)
			continue
		}
		books[i].CoverURL = url
	}
	return books
}

func isAbsolute(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(ref, "/")
}

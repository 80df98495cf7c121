package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/services/storefront/internal/cart"
	"bookstore/services/storefront/internal/catalog"
	"bookstore/services/storefront/internal/notify"
	"bookstore/services/storefront/internal/session"
)

// guest pages

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request, v *visitor) {
	s.render(w, r, http.StatusOK, "login", s.baseData(r, v, "Login"))
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request, v *visitor) {
	s.render(w, r, http.StatusOK, "register", s.baseData(r, v, "Register"))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, v *visitor) {
	if !s.allowRate(r, s.loginLimiter) {
		s.audit(r, "storefront.login", "rate_limited")
		s.rateLimited(w, r, v, "login", "Too many login attempts. Please wait a minute.")
		return
	}
	if !parseForm(w, r) {
		return
	}
	creds := domain.Credentials{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
	user, err := v.session.Login(r.Context(), creds)
	if err != nil {
		s.audit(r, "storefront.login", "fail", "reason", err.Error())
		notify.Flash(r.Context(), v.storage, authFailure(err, "Login failed. Please try again."))
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	s.audit(r, "storefront.login", "success", "user_id", user.ID.String())
	notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Success, Message: "Login successful!"})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, v *visitor) {
	if !s.allowRate(r, s.registerLimiter) {
		s.audit(r, "storefront.register", "rate_limited")
		s.rateLimited(w, r, v, "register", "Too many sign-up attempts. Please wait a minute.")
		return
	}
	if !parseForm(w, r) {
		return
	}
	creds := domain.Credentials{
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	user, err := v.session.Register(r.Context(), creds)
	if err != nil {
		s.audit(r, "storefront.register", "fail", "reason", err.Error())
		notify.Flash(r.Context(), v.storage, authFailure(err, "Registration failed. Please try again."))
		http.Redirect(w, r, "/register", http.StatusSeeOther)
		return
	}
	s.audit(r, "storefront.register", "success", "user_id", user.ID.String())
	notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Success, Message: "Registration successful!"})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request, v *visitor, page, msg string) {
	data := s.baseData(r, v, strings.ToUpper(page[:1])+page[1:])
	data.Flash = &notify.Notification{Kind: notify.Warning, Message: msg}
	w.Header().Set("Retry-After", "60")
	s.render(w, r, http.StatusTooManyRequests, page, data)
}

// signed-in pages

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, v *visitor) {
	user, _ := v.session.User()
	if err := v.session.Logout(r.Context()); err != nil {
		s.audit(r, "storefront.logout", "fail", "user_id", user.ID.String(), "reason", err.Error())
		notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Warning, Message: "An error occurred while logging out."})
	} else {
		s.audit(r, "storefront.logout", "success", "user_id", user.ID.String())
		notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Success, Message: "Logout successful."})
	}
	v.catalog.Load(r.Context(), nil)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request, v *visitor) {
	data := s.baseData(r, v, "Books")
	data.Books = v.catalog.Load(r.Context(), data.User)
	data.LoadFailed = v.catalog.LastError() != nil
	s.render(w, r, http.StatusOK, "home", data)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, v *visitor) {
	if !parseForm(w, r) {
		return
	}
	user := currentUser(v)
	book, err := v.catalog.Create(r.Context(), user, r.PostFormValue("title"), r.PostFormValue("price"))
	if err != nil {
		var validation *catalog.ValidationError
		if errors.As(err, &validation) {
			notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Warning, Message: validation.Message})
		} else {
			s.logFailure(r, "create book failed", err)
			notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Error, Message: "Failed to add book."})
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.audit(r, "storefront.book.create", "success", "book_id", book.ID.String())
	notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Success, Message: "Book added successfully!"})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, v *visitor) {
	id := domain.ID(strings.TrimSpace(r.PathValue("id")))
	if err := v.catalog.Delete(r.Context(), currentUser(v), id); err != nil {
		s.logFailure(r, "delete book failed", err, "book_id", id.String())
		notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Error, Message: "Failed to delete book."})
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.audit(r, "storefront.book.delete", "success", "book_id", id.String())
	notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Success, Message: "Book deleted successfully!"})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleBuyBook(w http.ResponseWriter, r *http.Request, v *visitor) {
	id := domain.ID(strings.TrimSpace(r.PathValue("id")))
	book, ok := v.catalog.Find(id)
	if !ok {
		// the list is transient; an evicted visitor has to fetch it again
		v.catalog.Load(r.Context(), currentUser(v))
		book, ok = v.catalog.Find(id)
	}
	if !ok {
		notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Error, Message: "That book is no longer available."})
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := v.cart.Add(r.Context(), book); err != nil {
		s.logFailure(r, "add to cart failed", err, "book_id", id.String())
		notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Error, Message: "Could not add the book to your cart."})
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Success, Message: fmt.Sprintf("You bought %q!", book.Title)})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request, v *visitor) {
	data := s.baseData(r, v, "Cart")
	data.CartItems = v.cart.Items(r.Context())
	s.render(w, r, http.StatusOK, "cart", data)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, v *visitor) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	books, err := v.catalog.Search(r.Context(), currentUser(v), query)
	if err != nil {
		var validation *catalog.ValidationError
		if errors.As(err, &validation) {
			notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Error, Message: "Search query cannot be empty!"})
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.logFailure(r, "search failed", err)
		notify.Flash(r.Context(), v.storage, notify.Notification{Kind: notify.Error, Message: "Something went wrong. Please try again."})
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	data := s.baseData(r, v, "Search")
	data.Query = query
	data.Books = books
	if data.Flash == nil {
		if len(books) == 0 {
			data.Flash = &notify.Notification{Kind: notify.Error, Message: "We didn't find your book."}
		} else {
			data.Flash = &notify.Notification{Kind: notify.Success, Message: fmt.Sprintf("Found %d books!", len(books))}
		}
	}
	s.render(w, r, http.StatusOK, "search", data)
}

type cartResponse struct {
	Items []domain.CartItem `json:"items"`
	Count int               `json:"count"`
	Total string            `json:"total"`
}

func (s *Server) handleCartJSON(w http.ResponseWriter, r *http.Request, v *visitor) {
	items := v.cart.Items(r.Context())
	writeJSON(w, http.StatusOK, cartResponse{
		Items: items,
		Count: len(items),
		Total: cart.Sum(items).StringFixed(2),
	})
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return false
	}
	return true
}

func currentUser(v *visitor) *domain.User {
	user, ok := v.session.User()
	if !ok {
		return nil
	}
	return &user
}

func (s *Server) logFailure(r *http.Request, msg string, err error, attrs ...any) {
	if errors.Is(err, catalog.ErrNoSession) {
		s.audit(r, "storefront.catalog", "fail", append([]any{"reason", "no_session"}, attrs...)...)
		return
	}
	util.LoggerFromContext(r.Context()).Error(msg, append(attrs, "err", err)...)
}

// authFailure maps a session error to the notification shown on the form.
func authFailure(err error, fallback string) notify.Notification {
	var validation *session.ValidationError
	if errors.As(err, &validation) {
		return notify.Notification{Kind: notify.Warning, Message: validation.Message}
	}
	var authErr *session.AuthError
	if errors.As(err, &authErr) && strings.TrimSpace(authErr.Message) != "" {
		return notify.Notification{Kind: notify.Error, Message: authErr.Message}
	}
	return notify.Notification{Kind: notify.Error, Message: fallback}
}

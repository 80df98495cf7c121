package server

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/shopspring/decimal"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/services/storefront/internal/cart"
	"bookstore/services/storefront/internal/notify"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"home", "login", "register", "cart", "search", "restoring"}

type pageData struct {
	Title      string
	User       *domain.User
	CartCount  int
	CartTotal  string
	Flash      *notify.Notification
	Books      []domain.Book
	CartItems  []domain.CartItem
	Query      string
	LoadFailed bool
}

var templateFuncs = template.FuncMap{
	"price": func(d decimal.Decimal) string {
		return "$" + d.StringFixed(2)
	},
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		pages[name] = t
	}
	return pages, nil
}

// baseData fills the header: the user, the cart badge read from the cart
// store, and the pending notification.
func (s *Server) baseData(r *http.Request, v *visitor, title string) pageData {
	data := pageData{Title: title, CartTotal: "0.00"}
	data.User = currentUser(v)
	if data.User != nil {
		items := v.cart.Items(r.Context())
		data.CartCount = len(items)
		data.CartTotal = cart.Sum(items).StringFixed(2)
	}
	if n, ok := notify.Take(r.Context(), v.storage); ok {
		data.Flash = &n
	}
	return data
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	t, ok := s.pages[name]
	if !ok {
		http.Error(w, "page not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		util.LoggerFromContext(r.Context()).Error("render page failed", "page", name, "err", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

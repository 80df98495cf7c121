package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ID identifies a backend record. The backend may encode it as a JSON number
// or a JSON string; both decode to the same textual form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

type User struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// DisplayName returns the best human-readable label for the user.
func (u User) DisplayName() string {
	switch {
	case strings.TrimSpace(u.Name) != "":
		return u.Name
	case strings.TrimSpace(u.Username) != "":
		return u.Username
	default:
		return u.Email
	}
}

type Credentials struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type Book struct {
	ID            ID              `json:"id"`
	Title         string          `json:"title"`
	Price         decimal.Decimal `json:"price"`
	Author        string          `json:"author,omitempty"`
	Rating        float64         `json:"rating,omitempty"`
	Stock         int             `json:"stock,omitempty"`
	Genre         string          `json:"genre,omitempty"`
	Pages         int             `json:"pages,omitempty"`
	PublishedDate string          `json:"publishedDate,omitempty"`
	Publisher     string          `json:"publisher,omitempty"`
	Description   string          `json:"description,omitempty"`
	CoverURL      string          `json:"coverUrl,omitempty"`
}

// CartItem is a snapshot of a book taken when it was put in the cart.
type CartItem Book

// Snapshot copies b into a cart item.
func Snapshot(b Book) CartItem {
	return CartItem(b)
}

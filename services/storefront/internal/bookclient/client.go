package bookclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bookstore/pkg/domain"
)

const defaultTimeout = 10 * time.Second

// Client calls the backend book endpoints over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a book endpoint error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a book client. A zero timeout selects the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) ListBooks(token string) ([]domain.Book, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/books", nil)
	if err != nil {
		return nil, err
	}
	addAuthHeader(req, token)

	var resp listBooksResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []domain.Book{}, nil
	}
	return resp.Data, nil
}

// CreateBook sends only title and price; the backend fills in the rest.
func (c *Client) CreateBook(token, title string, price decimal.Decimal) (domain.Book, error) {
	payload := map[string]any{
		"title": title,
		"price": json.Number(price.String()),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Book{}, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/books", bytes.NewReader(data))
	if err != nil {
		return domain.Book{}, err
	}
	addAuthHeader(req, token)
	req.Header.Set("Content-Type", "application/json")

	var book domain.Book
	if err := c.do(req, &book); err != nil {
		return domain.Book{}, err
	}
	return book, nil
}

func (c *Client) DeleteBook(token string, id domain.ID) error {
	path := fmt.Sprintf("%s/books/%s", c.baseURL, url.PathEscape(id.String()))
	req, err := http.NewRequest(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	addAuthHeader(req, token)
	return c.do(req, nil)
}

func (c *Client) Search(token, query string) ([]domain.Book, error) {
	path := c.baseURL + "/api/search?" + url.Values{"query": {query}}.Encode()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	addAuthHeader(req, token)

	var books []domain.Book
	if err := c.do(req, &books); err != nil {
		return nil, err
	}
	if books == nil {
		books = []domain.Book{}
	}
	return books, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Error
		}
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(errResp.Code)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

func addAuthHeader(req *http.Request, token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

type listBooksResponse struct {
	Data []domain.Book `json:"data"`
}

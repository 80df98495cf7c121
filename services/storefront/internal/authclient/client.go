package authclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"bookstore/pkg/domain"
)

const defaultTimeout = 5 * time.Second

// Client calls the backend auth endpoints over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents an auth endpoint error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an auth client. A zero timeout selects the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Login(username, password string) (domain.User, error) {
	payload := map[string]string{"username": username, "password": password}
	var resp authResponse
	if err := c.doJSON(http.MethodPost, "/auth/login", "", payload, &resp); err != nil {
		return domain.User{}, err
	}
	return resp.user(), nil
}

// Register creates an account. Tokens are filled only when the backend
// returns them.
func (c *Client) Register(username, email, password string) (domain.User, error) {
	payload := map[string]string{"username": username, "email": email, "password": password}
	var resp authResponse
	if err := c.doJSON(http.MethodPost, "/auth/register", "", payload, &resp); err != nil {
		return domain.User{}, err
	}
	return resp.user(), nil
}

func (c *Client) Logout(token string) error {
	return c.doJSON(http.MethodPost, "/api/auth/logout", token, nil, nil)
}

func (c *Client) Me(token string) (domain.User, error) {
	var resp authResponse
	if err := c.doJSON(http.MethodGet, "/auth/me", token, nil, &resp); err != nil {
		return domain.User{}, err
	}
	user := resp.user()
	user.AccessToken = token
	return user, nil
}

func (c *Client) Refresh(refreshToken string) (domain.User, error) {
	payload := map[string]string{"refresh_token": refreshToken}
	var resp authResponse
	if err := c.doJSON(http.MethodPost, "/auth/refresh", "", payload, &resp); err != nil {
		return domain.User{}, err
	}
	user := resp.user()
	if user.RefreshToken == "" {
		user.RefreshToken = refreshToken
	}
	return user, nil
}

func (c *Client) doJSON(method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	url := c.baseURL + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
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
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

// authResponse accepts the flat shape ({access_token, ...user fields}) as well
// as a nested {"user": {...}} envelope.
type authResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ID           domain.ID    `json:"id"`
	Name         string       `json:"name"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	User         *domain.User `json:"user"`
}

func (r authResponse) user() domain.User {
	u := domain.User{
		ID:       r.ID,
		Name:     r.Name,
		Username: r.Username,
		Email:    r.Email,
	}
	if r.User != nil {
		u = *r.User
	}
	u.AccessToken = r.AccessToken
	u.RefreshToken = r.RefreshToken
	return u
}

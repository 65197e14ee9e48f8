// Package oauth turns the code carried by an AUTH response into an access
// token and user profile, and drives the login exchange end to end.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.weixin.qq.com"

// maxBody caps how much of an API response is read.
const maxBody = 1 << 20

type Config struct {
	AppID      string
	Secret     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client calls the peer platform's OAuth endpoints.
type Client struct {
	appID   string
	secret  string
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Client{
		appID:   cfg.AppID,
		secret:  cfg.Secret,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

// AccessToken is the result of exchanging an authorization code.
type AccessToken struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	OpenID       string `json:"openid"`
	Scope        string `json:"scope"`
	UnionID      string `json:"unionid,omitempty"`

	ErrCode int    `json:"errcode,omitempty"`
	ErrMsg  string `json:"errmsg,omitempty"`
}

type UserInfo struct {
	OpenID     string   `json:"openid"`
	Nickname   string   `json:"nickname"`
	Sex        int      `json:"sex"`
	Province   string   `json:"province"`
	City       string   `json:"city"`
	Country    string   `json:"country"`
	HeadImgURL string   `json:"headimgurl"`
	UnionID    string   `json:"unionid"`
	Privilege  []string `json:"privilege"`

	ErrCode int    `json:"errcode,omitempty"`
	ErrMsg  string `json:"errmsg,omitempty"`
}

// APIError is an error reported in the body of an API response.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("code: %d message: %s", e.Code, e.Message)
}

var errMissingOpenID = errors.New("response carries no openid")

// ExchangeCode trades an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*AccessToken, error) {
	if code == "" {
		return nil, errors.New("oauth: empty authorization code")
	}
	q := url.Values{}
	q.Set("appid", c.appID)
	q.Set("secret", c.secret)
	q.Set("code", code)
	q.Set("grant_type", "authorization_code")

	var tok AccessToken
	if err := c.get(ctx, "/sns/oauth2/access_token", q, &tok); err != nil {
		return nil, err
	}
	if tok.ErrCode != 0 {
		return nil, &APIError{Code: tok.ErrCode, Message: tok.ErrMsg}
	}
	if tok.OpenID == "" || tok.AccessToken == "" {
		return nil, errMissingOpenID
	}
	return &tok, nil
}

// UserInfo fetches the profile of openID.
func (c *Client) UserInfo(ctx context.Context, accessToken, openID string) (*UserInfo, error) {
	q := url.Values{}
	q.Set("access_token", accessToken)
	q.Set("openid", openID)

	var info UserInfo
	if err := c.get(ctx, "/sns/userinfo", q, &info); err != nil {
		return nil, err
	}
	if info.ErrCode != 0 {
		return nil, &APIError{Code: info.ErrCode, Message: info.ErrMsg}
	}
	return &info, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("oauth %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("oauth %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oauth %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("oauth %s: decode: %w", path, err)
	}

	c.logger.Printf("[oauth] GET %s -> %d (%v)", path, resp.StatusCode, time.Since(start))
	return nil
}

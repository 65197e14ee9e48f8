package oauth

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newFakeAPI serves /sns/oauth2/access_token and /sns/userinfo. Codes listed
// in tokens succeed; anything else gets errcode 40029.
func newFakeAPI(t *testing.T, tokens map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/sns/oauth2/access_token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("grant_type") != "authorization_code" || q.Get("appid") != "wxabc123" || q.Get("secret") != "s3cret" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		openID, ok := tokens[q.Get("code")]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"errcode": 40029, "errmsg": "invalid code"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "ACCESS-" + openID,
			"expires_in":    7200,
			"refresh_token": "REFRESH",
			"openid":        openID,
			"scope":         "snsapi_userinfo",
		})
	})
	mux.HandleFunc("/sns/userinfo", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("access_token") != "ACCESS-"+q.Get("openid") {
			_ = json.NewEncoder(w).Encode(map[string]any{"errcode": 40001, "errmsg": "invalid credential"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"openid":     q.Get("openid"),
			"nickname":   "Band",
			"sex":        1,
			"province":   "Guangdong",
			"city":       "Shenzhen",
			"country":    "CN",
			"headimgurl": "https://thirdwx.qlogo.cn/x/0",
			"privilege":  []string{"PRIVILEGE1"},
			"unionid":    "o6_bmasdasdsad6_2sgVt7hMZOPfL",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(Config{
		AppID:      "wxabc123",
		Secret:     "s3cret",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Logger:     quietLogger(),
	})
}

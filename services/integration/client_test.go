package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"testing"
	"time"
)

func authURL() string {
	if url := os.Getenv("AUTH_URL"); url != "" {
		return url
	}
	return "http://localhost:8081"
}

func libraryURL() string {
	if url := os.Getenv("LIBRARY_URL"); url != "" {
		return url
	}
	return "http://localhost:8082"
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION=1 to run")
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type loginResponse struct {
	Message string `json:"message"`
	User    struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Tokens tokenPair `json:"tokens"`
}

type book struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

type searchResponse struct {
	Books []book `json:"books"`
	Total int    `json:"total"`
	Query string `json:"query"`
}

type lending struct {
	ID            string `json:"id"`
	BookID        string `json:"book_id"`
	LendStartDate string `json:"lend_start_date"`
	LendEndDate   string `json:"lend_end_date"`
	Status        string `json:"status"`
}

type dashboardResponse struct {
	ActiveLendings     []lending `json:"active_lendings"`
	ReservedLendings   []lending `json:"reserved_lendings"`
	LendingHistory     []lending `json:"lending_history"`
	TotalBooksBorrowed int       `json:"total_books_borrowed"`
}

func doRequest(method, url string, body any, token string) (*http.Response, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	// Each request looks like a new client so the auth rate limiter stays out of the way.
	req.Header.Set("X-Forwarded-For", randomIP())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Do(req)
}

// call performs a request, checks the status and decodes the body into out
// when out is non-nil.
func call(t *testing.T, method, url string, body any, token string, wantStatus int, out any) {
	t.Helper()
	resp, err := doRequest(method, url, body, token)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		t.Fatalf("%s %s: expected %d, got %d (%s: %s)", method, url, wantStatus, resp.StatusCode, errResp.Code, errResp.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
}

func randomIP() string {
	return fmt.Sprintf("10.%d.%d.%d", rand.Intn(255), rand.Intn(255), rand.Intn(255))
}

func waitForReady(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := doRequest(http.MethodGet, baseURL+"/readyz", nil, "")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("%s not ready after 30s", baseURL)
}

func loginDemo(t *testing.T) loginResponse {
	t.Helper()
	var out loginResponse
	call(t, http.MethodPost, authURL()+"/auth/login", map[string]string{
		"email":    "demo@gmail.com",
		"password": "Passw0rd!",
	}, "", http.StatusOK, &out)
	if out.Tokens.AccessToken == "" || out.Tokens.RefreshToken == "" {
		t.Fatalf("expected token pair, got %+v", out.Tokens)
	}
	return out
}

//go:build integration_test

package test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/2beens/postboard/internal/auth"
	"github.com/2beens/postboard/internal/posts"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

const (
	defaultWait = 5 * time.Second
	defaultTick = 100 * time.Millisecond
)

type apiResponse struct {
	status int
	body   []byte
}

func (s *IntegrationTestSuite) do(method, path, token string, body any, headers map[string]string) apiResponse {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, serverEndpoint+path, reader)
	s.Require().NoError(err)
	req.Header.Set("User-Agent", "test-agent")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(auth.TokenHeader, token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)

	return apiResponse{status: resp.StatusCode, body: respBytes}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Confirm  string `json:"confirm,omitempty"`
}

// registerAndLogin returns a fresh session token for email.
func (s *IntegrationTestSuite) registerAndLogin(email string) string {
	password := "correct-horse-battery"
	resp := s.do("POST", "/a/register", "", credentials{Email: email, Password: password, Confirm: password}, nil)
	s.Require().Equal(http.StatusCreated, resp.status, string(resp.body))

	resp = s.do("POST", "/a/login", "", credentials{Email: email, Password: password}, nil)
	s.Require().Equal(http.StatusOK, resp.status, string(resp.body))

	var loginResp map[string]string
	s.Require().NoError(json.Unmarshal(resp.body, &loginResp))
	s.Require().NotEmpty(loginResp["token"])
	return loginResp["token"]
}

type mutationResponse struct {
	Post       *posts.Post `json:"post"`
	ImageError string      `json:"image_error"`
	Replayed   bool        `json:"replayed"`
}

type submitImage struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type submitRequest struct {
	Title   string       `json:"title"`
	Content string       `json:"content"`
	Image   *submitImage `json:"image,omitempty"`
}

func tinyPNG() []byte {
	data := make([]byte, 64)
	copy(data, "\x89PNG\r\n\x1a\n")
	return data
}

//go:build integration_test

package test

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/2beens/postboard/internal/auth"
	"github.com/2beens/postboard/internal/posts"
)

type listResponse struct {
	Posts []posts.Summary `json:"posts"`
	Total int             `json:"total"`
}

func (s *IntegrationTestSuite) TestAuthFlow() {
	token := s.registerAndLogin("auth-flow@example.com")

	resp := s.do("GET", "/a/me", token, nil, nil)
	s.Require().Equal(http.StatusOK, resp.status)
	var me auth.Identity
	s.Require().NoError(json.Unmarshal(resp.body, &me))
	s.Equal("auth-flow@example.com", me.Email)
	s.NotEmpty(me.ID)

	resp = s.do("POST", "/a/register", "", credentials{
		Email:    "auth-flow@example.com",
		Password: "correct-horse-battery",
		Confirm:  "correct-horse-battery",
	}, nil)
	s.Equal(http.StatusConflict, resp.status)

	resp = s.do("POST", "/a/login", "", credentials{Email: "auth-flow@example.com", Password: "wrong-password"}, nil)
	s.Equal(http.StatusUnauthorized, resp.status)

	resp = s.do("GET", "/a/logout", token, nil, nil)
	s.Require().Equal(http.StatusOK, resp.status)

	resp = s.do("GET", "/a/me", token, nil, nil)
	s.Equal(http.StatusUnauthorized, resp.status)
}

func (s *IntegrationTestSuite) TestPostLifecycle() {
	token := s.registerAndLogin("lifecycle@example.com")

	resp := s.do("POST", "/posts", "", submitRequest{Title: "t", Content: "c"}, nil)
	s.Require().Equal(http.StatusUnauthorized, resp.status)

	resp = s.do("POST", "/posts", token, submitRequest{
		Title:   "first post",
		Content: "hello board",
		Image: &submitImage{
			Filename:    "pic.png",
			ContentType: "image/png",
			Data:        tinyPNG(),
		},
	}, nil)
	s.Require().Equal(http.StatusCreated, resp.status, string(resp.body))

	var created mutationResponse
	s.Require().NoError(json.Unmarshal(resp.body, &created))
	s.Require().NotNil(created.Post)
	s.Require().NotNil(created.Post.Image)
	s.Empty(created.ImageError)
	postID := created.Post.ID

	s.True(strings.HasSuffix(created.Post.Image.Path, ".png"), created.Post.Image.Path)
	resp = s.do("GET", "/images/"+created.Post.Image.Path, "", nil, nil)
	s.Require().Equal(http.StatusOK, resp.status)
	s.Equal(tinyPNG(), resp.body)

	// anonymous readers can see it, but can not edit it
	resp = s.do("GET", "/posts/"+postID, "", nil, nil)
	s.Require().Equal(http.StatusOK, resp.status)
	var detail posts.Detail
	s.Require().NoError(json.Unmarshal(resp.body, &detail))
	s.Equal("first post", detail.Title)
	s.False(detail.CanEdit)
	s.Equal(int64(1), detail.Views)

	resp = s.do("GET", "/posts/"+postID, token, nil, nil)
	s.Require().Equal(http.StatusOK, resp.status)
	s.Require().NoError(json.Unmarshal(resp.body, &detail))
	s.True(detail.CanEdit)
	s.Equal(int64(2), detail.Views)

	resp = s.do("PUT", "/posts/"+postID, token, submitRequest{Title: "first post, edited", Content: "hello again"}, nil)
	s.Require().Equal(http.StatusOK, resp.status, string(resp.body))
	var updated mutationResponse
	s.Require().NoError(json.Unmarshal(resp.body, &updated))
	s.Equal("first post, edited", updated.Post.Title)
	s.Require().NotNil(updated.Post.Image)
	s.Equal(created.Post.Image.Path, updated.Post.Image.Path)

	resp = s.do("GET", "/posts", "", nil, nil)
	s.Require().Equal(http.StatusOK, resp.status)
	var list listResponse
	s.Require().NoError(json.Unmarshal(resp.body, &list))
	var found bool
	for _, summary := range list.Posts {
		if summary.ID == postID {
			found = true
			s.True(summary.HasImage)
		}
	}
	s.True(found)

	resp = s.do("DELETE", "/posts/"+postID, token, nil, nil)
	s.Require().Equal(http.StatusOK, resp.status)

	resp = s.do("GET", "/posts/"+postID, "", nil, nil)
	s.Equal(http.StatusNotFound, resp.status)

	s.Eventually(func() bool {
		return s.do("GET", "/images/"+created.Post.Image.Path, "", nil, nil).status == http.StatusNotFound
	}, defaultWait, defaultTick)
}

func (s *IntegrationTestSuite) TestOwnershipEnforced() {
	ownerToken := s.registerAndLogin("owner@example.com")
	strangerToken := s.registerAndLogin("stranger@example.com")

	resp := s.do("POST", "/posts", ownerToken, submitRequest{Title: "mine", Content: "hands off"}, nil)
	s.Require().Equal(http.StatusCreated, resp.status)
	var created mutationResponse
	s.Require().NoError(json.Unmarshal(resp.body, &created))
	postID := created.Post.ID

	resp = s.do("PUT", "/posts/"+postID, strangerToken, submitRequest{Title: "yours now", Content: "x"}, nil)
	s.Equal(http.StatusNotFound, resp.status)

	resp = s.do("DELETE", "/posts/"+postID, strangerToken, nil, nil)
	s.Equal(http.StatusNotFound, resp.status)

	var title string
	s.Require().NoError(s.DB.QueryRow(`SELECT title FROM public.post WHERE id = $1`, postID).Scan(&title))
	s.Equal("mine", title)
}

func (s *IntegrationTestSuite) TestCreateIdempotent() {
	token := s.registerAndLogin("retry@example.com")
	headers := map[string]string{posts.IdempotencyKeyHeader: "retry-key-1"}

	resp := s.do("POST", "/posts", token, submitRequest{Title: "once", Content: "only once"}, headers)
	s.Require().Equal(http.StatusCreated, resp.status)
	var first mutationResponse
	s.Require().NoError(json.Unmarshal(resp.body, &first))

	resp = s.do("POST", "/posts", token, submitRequest{Title: "once", Content: "only once"}, headers)
	s.Require().Equal(http.StatusOK, resp.status)
	var replay mutationResponse
	s.Require().NoError(json.Unmarshal(resp.body, &replay))
	s.True(replay.Replayed)
	s.Equal(first.Post.ID, replay.Post.ID)

	var count int
	s.Require().NoError(s.DB.QueryRow(`SELECT count(*) FROM public.post WHERE title = 'once'`).Scan(&count))
	s.Equal(1, count)
}

func (s *IntegrationTestSuite) TestValidationRejected() {
	token := s.registerAndLogin("validation@example.com")

	resp := s.do("POST", "/posts", token, submitRequest{Title: "", Content: "no title"}, nil)
	s.Equal(http.StatusBadRequest, resp.status)

	resp = s.do("POST", "/posts", token, submitRequest{
		Title:   "bad image",
		Content: "text is not an image",
		Image:   &submitImage{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("plain")},
	}, nil)
	s.Equal(http.StatusBadRequest, resp.status)

	resp = s.do("POST", "/posts", token, submitRequest{
		Title:   "scripted image",
		Content: "svg can run script",
		Image: &submitImage{
			Filename:    "x.svg",
			ContentType: "image/svg+xml",
			Data:        []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`),
		},
	}, nil)
	s.Equal(http.StatusBadRequest, resp.status)
}

package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"polity/pkg/errors"
	"polity/pkg/pagination"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, fn func(c *gin.Context)) (int, map[string]json.RawMessage) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestMessageCarriesUserFacingText(t *testing.T) {
	status, body := render(t, func(c *gin.Context) {
		Message(c, "选票已撤回", gin.H{"deleted": 2})
	})
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `200`, string(body["code"]))
	assert.JSONEq(t, `"选票已撤回"`, string(body["message"]))
	assert.JSONEq(t, `{"deleted":2}`, string(body["data"]))
	assert.NotContains(t, body, "page_info")

	_, body = render(t, func(c *gin.Context) {
		Message(c, "投票尚未满足结束条件", nil)
	})
	assert.NotContains(t, body, "data")
}

func TestPagedIncludesPageInfo(t *testing.T) {
	_, body := render(t, func(c *gin.Context) {
		Paged(c, []string{"a", "b"}, pagination.NewPageInfo(2, 2, 5))
	})
	assert.JSONEq(t, `["a","b"]`, string(body["data"]))

	var page pagination.PageInfo
	require.NoError(t, json.Unmarshal(body["page_info"], &page))
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, page.HasNext)
	assert.True(t, page.HasPrev)
}

func TestErrorsStayHTTP200(t *testing.T) {
	cases := map[int]func(c *gin.Context){
		errors.CodeInvalidParam: func(c *gin.Context) { BadRequest(c, "x") },
		errors.CodeUnauthorized: func(c *gin.Context) { Unauthorized(c, "x") },
		errors.CodeForbidden:    func(c *gin.Context) { Forbidden(c, "x") },
		errors.CodeNotFound:     func(c *gin.Context) { NotFound(c, "x") },
		errors.CodeConflict:     func(c *gin.Context) { Conflict(c, "x") },
		errors.CodeUnavailable:  func(c *gin.Context) { Unavailable(c, "x") },
		errors.CodeServerError:  func(c *gin.Context) { ServerError(c, "x") },
		errors.CodePollClosed:   func(c *gin.Context) { Error(c, errors.CodePollClosed, "x") },
	}
	for code, fn := range cases {
		status, body := render(t, fn)
		assert.Equal(t, http.StatusOK, status)
		var got int
		require.NoError(t, json.Unmarshal(body["code"], &got))
		assert.Equal(t, code, got)
		assert.NotContains(t, body, "data")
	}
}

package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi/proxyutil"

	"github.com/xxxsen/kbassist/internal/pkg/errcode"
	"github.com/xxxsen/kbassist/internal/pkg/response"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	out := map[string]json.RawMessage{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSuccessEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	response.Success(c, gin.H{"collection": "kb-1"})

	out := decode(t, rec)
	require.JSONEq(t, `0`, string(out["code"]))
	require.Contains(t, out, "message")
	require.JSONEq(t, `{"collection":"kb-1"}`, string(out["data"]))
}

func TestAbortEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	response.Abort(c, errcode.ErrTooMany, "slow down")

	require.True(t, c.IsAborted())
	out := decode(t, rec)
	var code int
	require.NoError(t, json.Unmarshal(out["code"], &code))
	require.Equal(t, errcode.ErrTooMany, code)
	require.JSONEq(t, `"slow down"`, string(out["message"]))
	require.EqualError(t, proxyutil.GetReplyErrInfo(c), "slow down")
}

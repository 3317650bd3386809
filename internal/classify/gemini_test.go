package classify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/focusmate/internal/activity"
	"github.com/thebtf/focusmate/pkg/models"
)

const testKey = "test-api-key-1234"

type GeminiSuite struct {
	suite.Suite
	server   *httptest.Server
	client   *GeminiClient
	activity *activity.Log
	status   int
	reply    string
	lastPath string
	lastKey  string
	lastBody generateRequest
}

func (s *GeminiSuite) SetupTest() {
	s.status = http.StatusOK
	s.reply = candidate(`{"label":"work","category":"Coding","confidence":0.9,"reason":"editor open"}`)
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastPath = r.URL.Path
		s.lastKey = r.URL.Query().Get("key")
		body, _ := io.ReadAll(r.Body)
		s.lastBody = generateRequest{}
		_ = json.Unmarshal(body, &s.lastBody)
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(s.reply))
	}))
	s.activity = activity.New(10)
	s.client = NewGeminiClient(
		WithBaseURLs(s.server.URL+"/v1beta", s.server.URL+"/v1"),
		WithActivityLog(s.activity),
	)
}

func (s *GeminiSuite) TearDownTest() {
	s.server.Close()
}

func TestGeminiSuite(t *testing.T) {
	suite.Run(t, new(GeminiSuite))
}

func candidate(text string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content": map[string]interface{}{
					"parts": []interface{}{map[string]interface{}{"text": text}},
				},
			},
		},
	})
	return string(b)
}

func (s *GeminiSuite) request() Request {
	return Request{
		Image:         []byte{0xFF, 0xD8, 0xFF},
		Goal:          "write tests",
		APIKey:        testKey,
		Model:         "gemini-2.5-flash-lite",
		Provider:      models.ProviderAIStudio,
		FocusKeywords: []string{"terminal"},
	}
}

func (s *GeminiSuite) TestClassify_AIStudio() {
	res, err := s.client.Classify(context.Background(), s.request())
	s.Require().NoError(err)
	s.Equal(models.LabelWork, res.Label)
	s.Equal(models.CategoryCoding, res.Category)

	s.Equal("/v1beta/models/gemini-2.5-flash-lite:generateContent", s.lastPath)
	s.Equal(testKey, s.lastKey)
	s.Require().NotNil(s.lastBody.SystemInstruction)
	s.Contains(s.lastBody.SystemInstruction.Parts[0].Text, "User's current goal: write tests")
	s.Contains(s.lastBody.SystemInstruction.Parts[0].Text, `"terminal"`)
	s.Require().Len(s.lastBody.Contents, 1)
	parts := s.lastBody.Contents[0].Parts
	s.Require().Len(parts, 2)
	s.Equal("image/jpeg", parts[0].InlineData.MimeType)
	s.Equal("/9j/", parts[0].InlineData.Data)
	s.Equal(userInstruction, parts[1].Text)
	s.Equal("application/json", s.lastBody.GenerationConfig.ResponseMimeType)
	s.InDelta(0.1, *s.lastBody.GenerationConfig.Temperature, 1e-9)
}

func (s *GeminiSuite) TestClassify_Vertex() {
	req := s.request()
	req.Provider = models.ProviderVertexAI
	_, err := s.client.Classify(context.Background(), req)
	s.Require().NoError(err)
	s.Equal("/v1/publishers/google/models/gemini-2.5-flash-lite:generateContent", s.lastPath)
}

func (s *GeminiSuite) TestClassify_StatusKinds() {
	tests := []struct {
		status int
		body   string
		kind   Kind
	}{
		{http.StatusUnauthorized, `{}`, KindAuth},
		{http.StatusForbidden, `{}`, KindAuth},
		{http.StatusBadRequest, `{"error":{"status":"INVALID_ARGUMENT","details":[{"reason":"API_KEY_INVALID"}]}}`, KindAuth},
		{http.StatusBadRequest, `{"error":"bad image"}`, KindOther},
		{http.StatusTooManyRequests, `{}`, KindRateLimited},
		{http.StatusServiceUnavailable, `{}`, KindNetwork},
	}
	for _, tt := range tests {
		s.status = tt.status
		s.reply = tt.body
		_, err := s.client.Classify(context.Background(), s.request())
		s.Require().Error(err)
		s.Equal(tt.kind, KindOf(err), "status %d", tt.status)
	}
	s.NotEmpty(s.activity.Entries())
}

func (s *GeminiSuite) TestClassify_Malformed() {
	s.reply = candidate("sorry, I cannot help")
	_, err := s.client.Classify(context.Background(), s.request())
	s.Equal(KindMalformed, KindOf(err))

	s.reply = `{"candidates": []}`
	_, err = s.client.Classify(context.Background(), s.request())
	s.Equal(KindMalformed, KindOf(err))
}

func (s *GeminiSuite) TestClassify_MissingKey() {
	req := s.request()
	req.APIKey = "  "
	_, err := s.client.Classify(context.Background(), req)
	s.ErrorIs(err, ErrAPIKeyMissing)
	s.Empty(s.lastPath)
}

func (s *GeminiSuite) TestNetworkErrorRedactsKey() {
	s.server.Close()
	_, err := s.client.Classify(context.Background(), s.request())
	s.Require().Error(err)
	s.Equal(KindNetwork, KindOf(err))
	s.NotContains(err.Error(), testKey)
	for _, e := range s.activity.Entries() {
		s.NotContains(e.Details, testKey)
	}
}

func (s *GeminiSuite) TestGenerateText() {
	s.reply = candidate("  You focused well this week. Keep mornings for deep work.  ")
	text, err := s.client.GenerateText(context.Background(), "summary", testKey, "", models.ProviderAIStudio)
	s.Require().NoError(err)
	s.Equal("You focused well this week. Keep mornings for deep work.", text)
	s.Nil(s.lastBody.SystemInstruction)
	s.Equal("summary", s.lastBody.Contents[0].Parts[0].Text)
	s.Contains(s.lastPath, models.DefaultModel)
}

func (s *GeminiSuite) TestValidateKey() {
	s.NoError(s.client.ValidateKey(context.Background(), testKey, "", models.ProviderAIStudio))
	s.Equal(1, s.lastBody.GenerationConfig.MaxOutputTokens)

	s.status = http.StatusForbidden
	err := s.client.ValidateKey(context.Background(), testKey, "", models.ProviderAIStudio)
	s.True(IsAuth(err))
}

func TestEndpointURL(t *testing.T) {
	c := NewGeminiClient()
	u := c.EndpointURL("gemini-2.5-flash-lite", models.ProviderAIStudio, "k&y")
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash-lite:generateContent?key=k%26y", u)

	u = c.EndpointURL("m", models.ProviderVertexAI, "k")
	assert.True(t, strings.HasPrefix(u, "https://aiplatform.googleapis.com/v1/publishers/google/models/m:"))
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 5000)
	out := truncate(long)
	require.Less(t, len(out), len(long))
	assert.Contains(t, out, "TRUNCATED 3000 bytes")
	assert.Equal(t, "short", truncate("short"))

	// 3-byte runes put both cut points inside a rune
	wide := strings.Repeat("界", 1001)
	out = truncate(wide)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, strings.Repeat("界", 333)+"\n"))
	assert.True(t, strings.HasSuffix(out, "\n"+strings.Repeat("界", 333)))
}

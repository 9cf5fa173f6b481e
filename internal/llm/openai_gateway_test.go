package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/parser"
	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validResumeOutput 一份能通过schema校验的模型输出
const validResumeOutput = `{
  "profile": {"name": "Jane", "surname": "Doe", "email": "jane@example.com", "headline": "", "professionalSummary": "", "linkedIn": "", "website": "", "country": "", "city": "", "relocation": false, "remote": false},
  "workExperiences": [],
  "educations": [],
  "skills": ["Go"],
  "licenses": [],
  "languages": [],
  "achievements": [],
  "publications": [],
  "honors": []
}`

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		OpenAI: config.OpenAIConfig{
			APIKey:         "sk-test",
			BaseURL:        baseURL,
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 5,
			DeleteUploaded: true,
		},
	}
}

// TestExtractOutputText 验证三种响应外层结构的探测顺序
func TestExtractOutputText(t *testing.T) {
	// 顶层output_text
	raw := []byte(`{"output_text": "hello"}`)
	assert.Equal(t, "hello", ExtractOutputText(raw))

	// output块结构
	raw = []byte(`{"output": [{"content": [{"type": "reasoning", "text": "skip"}, {"type": "output_text", "text": "from-block"}]}]}`)
	assert.Equal(t, "from-block", ExtractOutputText(raw))

	// chat兼容的choices结构
	raw = []byte(`{"choices": [{"message": {"content": "from-choices"}}]}`)
	assert.Equal(t, "from-choices", ExtractOutputText(raw))

	// 无法识别的结构返回空串
	assert.Equal(t, "", ExtractOutputText([]byte(`{"unknown": true}`)))
	assert.Equal(t, "", ExtractOutputText([]byte(`not json`)))
}

// TestUploadFile 验证文件上传与文件ID解析
func TestUploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/files", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(32<<20))
		assert.Equal(t, "user_data", r.FormValue("purpose"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "cv.pdf", header.Filename)

		json.NewEncoder(w).Encode(map[string]string{"id": "file-abc"})
	}))
	defer srv.Close()

	g, err := NewOpenAIGateway(testConfig(srv.URL))
	require.NoError(t, err)

	fileID, err := g.UploadFile(context.Background(), []byte("%PDF-1.7"), "cv.pdf")
	require.NoError(t, err)
	assert.Equal(t, "file-abc", fileID)
}

// TestUploadFileMissingID 验证响应缺少文件ID时报错
func TestUploadFileMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"object": "file"})
	}))
	defer srv.Close()

	g, err := NewOpenAIGateway(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = g.UploadFile(context.Background(), []byte("%PDF-1.7"), "cv.pdf")
	assert.Error(t, err)
}

// TestExtractFromPDFHappyPath 验证上传、提取、清理的完整链路
func TestExtractFromPDFHappyPath(t *testing.T) {
	var deleted atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/files":
			json.NewEncoder(w).Encode(map[string]string{"id": "file-abc"})
		case r.Method == http.MethodPost && r.URL.Path == "/responses":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "gpt-4o-mini", body["model"])
			json.NewEncoder(w).Encode(map[string]interface{}{
				"output_text": validResumeOutput,
				"usage":       map[string]int{"input_tokens": 1200, "output_tokens": 340},
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/files/file-abc":
			deleted.Store(true)
			json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
		default:
			t.Errorf("未预期的请求: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g, err := NewOpenAIGateway(testConfig(srv.URL))
	require.NoError(t, err)

	outcome, err := g.ExtractFromPDF(context.Background(), []byte("%PDF-1.7"), "cv.pdf", "gpt-4o-mini")
	require.NoError(t, err)
	require.NotNil(t, outcome.Document)
	assert.Equal(t, "Jane", outcome.Document.Profile.Name)
	assert.Equal(t, "file-abc", outcome.FileID)
	assert.False(t, outcome.Remediated)
	require.NotNil(t, outcome.PromptTokens)
	assert.Equal(t, 1200, *outcome.PromptTokens)
	require.NotNil(t, outcome.ResponseTokens)
	assert.Equal(t, 340, *outcome.ResponseTokens)
	assert.True(t, deleted.Load(), "提取完成后应清理上传的文件")
}

// TestExtractFromPDFRemediation 验证首次输出不是JSON时只补救重试一次
func TestExtractFromPDFRemediation(t *testing.T) {
	var responseCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/files":
			json.NewEncoder(w).Encode(map[string]string{"id": "file-abc"})
		case r.Method == http.MethodPost && r.URL.Path == "/responses":
			if responseCalls.Add(1) == 1 {
				// 首次返回纯文本, JSON解析必然失败
				json.NewEncoder(w).Encode(map[string]interface{}{
					"output_text": "I was unable to produce structured output",
					"usage":       map[string]int{"input_tokens": 100, "output_tokens": 20},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"output_text": validResumeOutput,
				"usage":       map[string]int{"input_tokens": 150, "output_tokens": 60},
			})
		case r.Method == http.MethodDelete:
			json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
		}
	}))
	defer srv.Close()

	g, err := NewOpenAIGateway(testConfig(srv.URL))
	require.NoError(t, err)

	outcome, err := g.ExtractFromPDF(context.Background(), []byte("%PDF-1.7"), "cv.pdf", "gpt-4o-mini")
	require.NoError(t, err)
	assert.True(t, outcome.Remediated)
	assert.Equal(t, int32(2), responseCalls.Load())

	// token消耗是两次调用之和
	require.NotNil(t, outcome.PromptTokens)
	assert.Equal(t, 250, *outcome.PromptTokens)
	require.NotNil(t, outcome.ResponseTokens)
	assert.Equal(t, 80, *outcome.ResponseTokens)
}

// TestExtractFromPDFValidationNoRetry 验证JSON合法但schema校验失败时不触发补救
func TestExtractFromPDFValidationNoRetry(t *testing.T) {
	var responseCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/files":
			json.NewEncoder(w).Encode(map[string]string{"id": "file-abc"})
		case r.Method == http.MethodPost && r.URL.Path == "/responses":
			responseCalls.Add(1)
			// 合法JSON但缺少schema必填字段
			json.NewEncoder(w).Encode(map[string]string{"output_text": `{"profile": {"email": "not-an-email"}}`})
		case r.Method == http.MethodDelete:
			json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
		}
	}))
	defer srv.Close()

	g, err := NewOpenAIGateway(testConfig(srv.URL))
	require.NoError(t, err)

	outcome, err := g.ExtractFromPDF(context.Background(), []byte("%PDF-1.7"), "cv.pdf", "gpt-4o-mini")
	require.Error(t, err)
	assert.ErrorIs(t, err, parser.ErrSchemaViolation)
	assert.Equal(t, int32(1), responseCalls.Load())

	// 校验失败的调用仍带回原始响应
	require.NotNil(t, outcome)
	assert.NotEmpty(t, outcome.RawResponse)
	assert.False(t, outcome.Remediated)
}

// TestExtractFromPDFRemediationExhausted 验证补救重试后仍无效则报错
func TestExtractFromPDFRemediationExhausted(t *testing.T) {
	var responseCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/files":
			json.NewEncoder(w).Encode(map[string]string{"id": "file-abc"})
		case r.Method == http.MethodPost && r.URL.Path == "/responses":
			responseCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"output_text": "this is not json"})
		case r.Method == http.MethodDelete:
			json.NewEncoder(w).Encode(map[string]bool{"deleted": true})
		}
	}))
	defer srv.Close()

	g, err := NewOpenAIGateway(testConfig(srv.URL))
	require.NoError(t, err)

	outcome, err := g.ExtractFromPDF(context.Background(), []byte("%PDF-1.7"), "cv.pdf", "gpt-4o-mini")
	require.Error(t, err)
	// 补救只允许一次, 总共两次调用
	assert.Equal(t, int32(2), responseCalls.Load())

	// 放弃时把最后一次的原始响应带回给调用方落库
	require.NotNil(t, outcome)
	assert.Contains(t, outcome.RawResponse, "this is not json")
	assert.True(t, outcome.Remediated)
}

// TestExtractFromPageImage 验证图像路径使用input_image内容块
func TestExtractFromPageImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/responses", r.URL.Path)
		var body struct {
			Input []struct {
				Content []map[string]interface{} `json:"content"`
			} `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Input, 1)
		require.Len(t, body.Input[0].Content, 2)
		assert.Equal(t, "input_text", body.Input[0].Content[0]["type"])
		assert.Equal(t, "input_image", body.Input[0].Content[1]["type"])
		assert.Contains(t, body.Input[0].Content[1]["image_url"], "data:image/png;base64,")

		json.NewEncoder(w).Encode(map[string]string{"output_text": validResumeOutput})
	}))
	defer srv.Close()

	g, err := NewOpenAIGateway(testConfig(srv.URL))
	require.NoError(t, err)

	img := types.PageImage{PageNumber: 1, Format: "png", Data: []byte{0x89, 0x50, 0x4e, 0x47}}
	outcome, err := g.ExtractFromPageImage(context.Background(), img, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "Jane", outcome.Document.Profile.Name)
	assert.Empty(t, outcome.FileID)
}

// TestNewOpenAIGatewayNoKey 验证缺少API密钥时报错
func TestNewOpenAIGatewayNoKey(t *testing.T) {
	_, err := NewOpenAIGateway(&config.Config{})
	assert.Error(t, err)
}

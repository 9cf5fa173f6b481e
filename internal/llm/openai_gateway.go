// Package llm 封装对OpenAI网关的访问: 文件上传、Responses API调用与向量化提取
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/constants"
	"github.com/hamdidilekci/pdf-scraper/internal/logger"
	"github.com/hamdidilekci/pdf-scraper/internal/parser"
	"github.com/hamdidilekci/pdf-scraper/internal/tracing"
	"github.com/hamdidilekci/pdf-scraper/internal/types"
	"github.com/hamdidilekci/pdf-scraper/pkg/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var llmTracer = otel.Tracer("pdf-scraper/llm")

// ExtractionOutcome 一次提取调用的产物
// 提取失败时Document为nil, 其余诊断字段尽量填上
type ExtractionOutcome struct {
	Document       *types.ResumeDocument // 归一化并通过schema校验的简历文档
	RawResponse    string                // 网关返回的原始响应体
	Remediated     bool                  // 是否经过补救重试才成功
	FileID         string                // Files API分配的文件ID, 图像路径为空
	PromptTokens   *int                  // usage上报的输入token数, 补救时为两次之和
	ResponseTokens *int                  // usage上报的输出token数
}

// Gateway 简历提取所需的模型网关能力
type Gateway interface {
	ExtractFromPDF(ctx context.Context, pdfData []byte, filename string, model string) (*ExtractionOutcome, error)
	ExtractFromPageImage(ctx context.Context, img types.PageImage, model string) (*ExtractionOutcome, error)
}

// OpenAIGateway 基于Files API与Responses API的OpenAI网关客户端
type OpenAIGateway struct {
	apiKey         string
	baseURL        string
	deleteUploaded bool
	httpClient     *http.Client
	cfg            *config.Config

	mu      sync.Mutex
	buckets map[string]*ratelimit.TokenBucket // 按模型维护的QPM令牌桶
}

var _ Gateway = (*OpenAIGateway)(nil)

// NewOpenAIGateway 创建OpenAI网关客户端
func NewOpenAIGateway(cfg *config.Config) (*OpenAIGateway, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API密钥不能为空")
	}
	baseURL := strings.TrimSuffix(cfg.OpenAI.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIGateway{
		apiKey:         cfg.OpenAI.APIKey,
		baseURL:        baseURL,
		deleteUploaded: cfg.OpenAI.DeleteUploaded,
		httpClient:     &http.Client{Timeout: timeout},
		cfg:            cfg,
		buckets:        make(map[string]*ratelimit.TokenBucket),
	}, nil
}

// bucketFor 返回指定模型的令牌桶, 不存在时按配置的QPM懒创建
func (g *OpenAIGateway) bucketFor(model string) *ratelimit.TokenBucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tb, ok := g.buckets[model]; ok {
		return tb
	}
	qpm := g.cfg.GetQPMForModel(model)
	tb := ratelimit.NewTokenBucket(qpm, qpm)
	if g.cfg.OpenAI.MaxRetries > 0 {
		tb = tb.WithRetryPolicy(
			time.Duration(g.cfg.OpenAI.RetryWaitMS)*time.Millisecond,
			g.cfg.OpenAI.MaxRetries,
		)
	}
	g.buckets[model] = tb
	return tb
}

// ExtractFromPDF 将整份PDF上传到Files API后通过Responses API提取简历
// 输出不是合法JSON时做一次补救重试, 之后按配置清理上传的文件
func (g *OpenAIGateway) ExtractFromPDF(ctx context.Context, pdfData []byte, filename string, model string) (*ExtractionOutcome, error) {
	ctx, span := llmTracer.Start(ctx, "OpenAIGateway.ExtractFromPDF")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.pdf_size", len(pdfData)),
	)

	fileID, err := g.UploadFile(ctx, pdfData, filename)
	if err != nil {
		tracing.RecordLLMError(span, err, model, "upload_file")
		return nil, err
	}
	if g.deleteUploaded {
		defer g.DeleteFile(ctx, fileID)
	}

	content := []map[string]interface{}{
		{"type": "input_text", "text": extractionSystemPrompt},
		{"type": "input_file", "file_id": fileID},
	}
	outcome, err := g.extractWithRemediation(ctx, model, content)
	if outcome != nil {
		outcome.FileID = fileID
	}
	if err != nil {
		tracing.RecordLLMError(span, err, model, "extract_from_pdf")
		// 原始响应随错误一并返回, 失败的尝试记录需要它做诊断
		return outcome, err
	}
	return outcome, nil
}

// ExtractFromPageImage 通过多模态模型从单页位图中提取简历片段
// 单次调用不做补救重试, 失败页由调用方决定跳过或终止
func (g *OpenAIGateway) ExtractFromPageImage(ctx context.Context, img types.PageImage, model string) (*ExtractionOutcome, error) {
	ctx, span := llmTracer.Start(ctx, "OpenAIGateway.ExtractFromPageImage")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.page", img.PageNumber),
		attribute.Int("llm.image_size", len(img.Data)),
	)

	dataURL := fmt.Sprintf("data:image/%s;base64,%s",
		img.Format, base64.StdEncoding.EncodeToString(img.Data))
	content := []map[string]interface{}{
		{"type": "input_text", "text": extractionSystemPrompt},
		{"type": "input_image", "image_url": dataURL},
	}

	raw, outputText, err := g.createResponse(ctx, model, content)
	if err != nil {
		tracing.RecordLLMError(span, err, model, "extract_from_page_image")
		return nil, err
	}
	prompt, response := usageFromResponse(raw)
	outcome := &ExtractionOutcome{
		RawResponse:    string(raw),
		PromptTokens:   prompt,
		ResponseTokens: response,
	}
	doc, parseErr := parser.ParseResumeDocument(outputText)
	if parseErr != nil {
		tracing.RecordLLMError(span, parseErr, model, "extract_from_page_image")
		return outcome, parseErr
	}
	outcome.Document = doc
	return outcome, nil
}

// extractWithRemediation 调用Responses API并解析结构化简历。
// 输出文本不是合法JSON时带着解析错误重试一次, 仍不是JSON则放弃;
// JSON合法但未通过schema校验的响应不触发重试, 校验错误直接上抛
func (g *OpenAIGateway) extractWithRemediation(ctx context.Context, model string, content []map[string]interface{}) (*ExtractionOutcome, error) {
	raw, outputText, err := g.createResponse(ctx, model, content)
	if err != nil {
		return nil, err
	}
	prompt, response := usageFromResponse(raw)

	remediated := false
	if jsonErr := probeJSONObject(outputText); jsonErr != nil {
		logger.Ctx(ctx).Warn().
			Err(jsonErr).
			Str("model", model).
			Str("output_preview", tracing.TruncateTail(outputText, 200)).
			Msg("模型响应不是合法JSON, 进行补救重试")

		// 把解析错误原样带回给模型, 只补救一次
		remediation := map[string]interface{}{
			"type": "input_text",
			"text": fmt.Sprintf(
				"IMPORTANT: Return ONLY a valid JSON object without any markdown formatting or code blocks. The previous output could not be parsed as JSON: %s. Strictly follow the schema now.",
				jsonErr.Error()),
		}
		raw, outputText, err = g.createResponse(ctx, model, append(content, remediation))
		if err != nil {
			return nil, fmt.Errorf("补救重试调用失败: %w", err)
		}
		// 尝试记录里的token消耗是两次调用之和
		retryPrompt, retryResponse := usageFromResponse(raw)
		prompt = sumTokens(prompt, retryPrompt)
		response = sumTokens(response, retryResponse)
		remediated = true
		if jsonErr := probeJSONObject(outputText); jsonErr != nil {
			abandoned := &ExtractionOutcome{
				RawResponse:    string(raw),
				Remediated:     true,
				PromptTokens:   prompt,
				ResponseTokens: response,
			}
			return abandoned, fmt.Errorf("补救重试后响应仍不是合法JSON: %w", jsonErr)
		}
	}

	outcome := &ExtractionOutcome{
		RawResponse:    string(raw),
		Remediated:     remediated,
		PromptTokens:   prompt,
		ResponseTokens: response,
	}
	doc, parseErr := parser.ParseResumeDocument(outputText)
	if parseErr != nil {
		return outcome, parseErr
	}
	outcome.Document = doc
	return outcome, nil
}

// probeJSONObject 检查清洗后的输出文本能否反序列化为JSON对象
func probeJSONObject(outputText string) error {
	cleaned := parser.SanitizeModelJSON(outputText)
	if cleaned == "" {
		return fmt.Errorf("模型响应为空")
	}
	var probe map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &probe); err != nil {
		return err
	}
	return nil
}

// UploadFile 把PDF上传到Files API, 返回文件ID
func (g *OpenAIGateway) UploadFile(ctx context.Context, data []byte, filename string) (string, error) {
	ctx, span := llmTracer.Start(ctx, "OpenAIGateway.UploadFile")
	defer span.End()

	if filename == "" {
		filename = "resume.pdf"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", constants.OpenAIFilePurpose); err != nil {
		return "", fmt.Errorf("构造上传表单失败: %w", err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("构造上传表单失败: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("写入上传表单失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("关闭上传表单失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/files", &buf)
	if err != nil {
		return "", fmt.Errorf("创建上传请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	body, err := g.doRequest(req)
	if err != nil {
		return "", fmt.Errorf("Files API调用失败: %w", err)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("解析Files API响应失败: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("Files API响应中缺少文件ID: %s", tracing.TruncateTail(string(body), 200))
	}

	span.SetAttributes(attribute.String("llm.file_id", parsed.ID))
	logger.Ctx(ctx).Debug().
		Str("file_id", parsed.ID).
		Str("filename", filename).
		Int("size", len(data)).
		Msg("PDF已上传到Files API")
	return parsed.ID, nil
}

// DeleteFile 删除Files API上的文件
// 清理失败只记录日志, 不影响提取结果
func (g *OpenAIGateway) DeleteFile(ctx context.Context, fileID string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.baseURL+"/files/"+fileID, nil)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("file_id", fileID).Msg("构造文件删除请求失败")
		return
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	if _, err := g.doRequest(req); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("file_id", fileID).Msg("清理Files API文件失败")
		return
	}
	logger.Ctx(ctx).Debug().Str("file_id", fileID).Msg("Files API文件已清理")
}

// createResponse 调用Responses API并返回原始响应体与提取出的输出文本
func (g *OpenAIGateway) createResponse(ctx context.Context, model string, content []map[string]interface{}) ([]byte, string, error) {
	ctx, span := llmTracer.Start(ctx, "OpenAIGateway.createResponse")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	reqBody := map[string]interface{}{
		"model":       model,
		"temperature": 0,
		"text": map[string]interface{}{
			"format": map[string]interface{}{"type": "json_object"},
		},
		"input": []map[string]interface{}{
			{"role": "user", "content": content},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, "", fmt.Errorf("序列化Responses请求失败: %w", err)
	}

	var body []byte
	// 模型级QPM限流与网络层重试在令牌桶中完成
	callErr := g.bucketFor(model).RetryWithBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/responses", bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("创建Responses请求失败: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		req.Header.Set("Content-Type", "application/json")

		body, err = g.doRequest(req)
		return err
	})
	if callErr != nil {
		tracing.RecordLLMError(span, callErr, model, "create_response")
		return nil, "", fmt.Errorf("Responses API调用失败: %w", callErr)
	}

	return body, ExtractOutputText(body), nil
}

// doRequest 发送HTTP请求, 非2xx状态码转为错误并保留状态与响应片段
func (g *OpenAIGateway) doRequest(req *http.Request) ([]byte, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 状态行保留在错误消息里, 供重试策略判断是否可重试
		return nil, fmt.Errorf("状态: %s, 响应: %s", resp.Status, tracing.TruncateTail(string(body), 300))
	}
	return body, nil
}

// responsesEnvelope Responses API响应的三种已知外层结构
type responsesEnvelope struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		InputTokens      *int `json:"input_tokens"`
		OutputTokens     *int `json:"output_tokens"`
		PromptTokens     *int `json:"prompt_tokens"`     // chat兼容命名
		CompletionTokens *int `json:"completion_tokens"` // chat兼容命名
	} `json:"usage"`
}

// usageFromResponse 从响应的usage块中读取token消耗, 未上报时返回nil
func usageFromResponse(raw []byte) (prompt, response *int) {
	var env responsesEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil
	}
	prompt = env.Usage.InputTokens
	if prompt == nil {
		prompt = env.Usage.PromptTokens
	}
	response = env.Usage.OutputTokens
	if response == nil {
		response = env.Usage.CompletionTokens
	}
	return prompt, response
}

// sumTokens 累加两个可能缺失的token计数, 都缺失时保持nil
func sumTokens(a, b *int) *int {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	total := *a + *b
	return &total
}

// ExtractOutputText 从Responses API响应中探测输出文本
// 依次尝试: 顶层output_text、output块中的output_text内容、chat兼容的choices
func ExtractOutputText(raw []byte) string {
	var env responsesEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	if env.OutputText != "" {
		return env.OutputText
	}
	for _, block := range env.Output {
		for _, c := range block.Content {
			if c.Type == "output_text" && c.Text != "" {
				return c.Text
			}
		}
	}
	if len(env.Choices) > 0 && env.Choices[0].Message.Content != "" {
		return env.Choices[0].Message.Content
	}
	return ""
}

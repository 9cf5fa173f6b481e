package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hamdidilekci/pdf-scraper/internal/llm"
	"github.com/hamdidilekci/pdf-scraper/internal/logger"
	"github.com/hamdidilekci/pdf-scraper/internal/parser"
	"github.com/hamdidilekci/pdf-scraper/internal/storage/models"
	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// runImageStrategy 扫描件路径: 按页提取位图, 并发交给多模态模型,
// 各页片段按页序合并为一份简历文档
// 单页失败不中断整体, 只要有任意一页成功即可产出结果
func (e *ResumeExtractor) runImageStrategy(ctx context.Context, record *models.ResumeRecord, pdfData []byte, model string) (*strategyResult, error) {
	ctx, span := extractorTracer.Start(ctx, "ResumeExtractor.runImageStrategy")
	defer span.End()

	images, err := e.rasterizer.ExtractPageImages(ctx, pdfData)
	if err != nil {
		return nil, &ExtractError{
			ResumeID: record.ResumeID,
			Op:       "rasterize",
			BaseErr:  ErrExtractionFailed,
			Detail:   err.Error(),
		}
	}
	span.SetAttributes(attribute.Int("resume.pages", len(images)))

	concurrency := e.cfg.Extraction.PageConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	// 各goroutine只写自己的槽位, 页序由切片下标保证
	fragments := make([]*types.ResumeDocument, len(images))
	rawResponses := make([]string, len(images))
	promptTokens := make([]*int, len(images))
	responseTokens := make([]*int, len(images))
	var mu sync.Mutex
	var pageErrs []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			outcome, err := e.gateway.ExtractFromPageImage(gctx, img, model)
			if err != nil {
				// 单页失败只记录, 不让errgroup取消其余页;
				// 解析失败时网关仍带回原始响应与token消耗, 留给失败诊断用
				if outcome != nil {
					rawResponses[i] = outcome.RawResponse
					promptTokens[i] = outcome.PromptTokens
					responseTokens[i] = outcome.ResponseTokens
				}
				logger.Ctx(gctx).Warn().
					Err(err).
					Str("resume_id", record.ResumeID).
					Int("page", img.PageNumber).
					Msg("单页提取失败, 跳过该页")
				mu.Lock()
				pageErrs = append(pageErrs, fmt.Sprintf("页%d: %v", img.PageNumber, err))
				mu.Unlock()
				return nil
			}
			fragments[i] = outcome.Document
			rawResponses[i] = outcome.RawResponse
			promptTokens[i] = outcome.PromptTokens
			responseTokens[i] = outcome.ResponseTokens
			return nil
		})
	}
	// goroutine不返回错误, Wait只可能因上下文取消失败
	if err := g.Wait(); err != nil {
		return nil, NewExtractionError(record.ResumeID, err.Error())
	}

	succeeded := 0
	firstRaw := ""
	for i, frag := range fragments {
		if frag != nil {
			succeeded++
			if firstRaw == "" {
				firstRaw = rawResponses[i]
			}
		}
	}
	// 失败页的token消耗同样计入尝试记录
	totalPrompt := sumPageTokens(promptTokens)
	totalResponse := sumPageTokens(responseTokens)

	if succeeded == 0 {
		failedRaw := ""
		for _, raw := range rawResponses {
			if raw != "" {
				failedRaw = raw
				break
			}
		}
		partial := &strategyResult{
			RawResponse:    failedRaw,
			PromptTokens:   totalPrompt,
			ResponseTokens: totalResponse,
		}
		return partial, &ExtractError{
			ResumeID: record.ResumeID,
			Op:       "extract",
			BaseErr:  ErrNoPagesExtracted,
			Detail:   strings.Join(pageErrs, "; "),
		}
	}

	merged := parser.MergeResumeFragments(fragments)
	parser.NormalizeResume(merged)

	result := &strategyResult{
		RawResponse:    firstRaw,
		PagesProcessed: succeeded,
		PromptTokens:   totalPrompt,
		ResponseTokens: totalResponse,
	}
	parsed, err := json.Marshal(merged)
	if err != nil {
		return result, NewValidationError(record.ResumeID, err.Error())
	}
	if err := parser.ValidateResumeJSON(parsed); err != nil {
		return result, NewValidationError(record.ResumeID, err.Error())
	}

	logger.Ctx(ctx).Info().
		Str("resume_id", record.ResumeID).
		Int("pages_total", len(images)).
		Int("pages_succeeded", succeeded).
		Msg("扫描件分页提取完成")

	// 补救重试只存在于整文档路径, 图像路径单页失败直接跳过
	result.ParsedJSON = datatypes.JSON(parsed)
	return result, nil
}

// sumPageTokens 累加各页上报的token计数, 全部缺失时保持nil
func sumPageTokens(counts []*int) *int {
	var total *int
	for _, c := range counts {
		if c == nil {
			continue
		}
		if total == nil {
			n := *c
			total = &n
			continue
		}
		*total += *c
	}
	return total
}

// 确保网关实现满足策略所需接口
var _ ExtractionGateway = (*llm.OpenAIGateway)(nil)

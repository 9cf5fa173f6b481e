package processor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hamdidilekci/pdf-scraper/internal/parser"
	"github.com/hamdidilekci/pdf-scraper/internal/storage/models"

	"gorm.io/datatypes"
)

// runTextStrategy 文本路径: 整份PDF交给Files API + Responses API一次性提取
// 混合形态也走这条路径, 文本层通常已覆盖可读内容
func (e *ResumeExtractor) runTextStrategy(ctx context.Context, record *models.ResumeRecord, pdfData []byte, model string, pageCount int) (*strategyResult, error) {
	ctx, span := extractorTracer.Start(ctx, "ResumeExtractor.runTextStrategy")
	defer span.End()

	outcome, err := e.gateway.ExtractFromPDF(ctx, pdfData, record.OriginalFilename, model)
	if err != nil {
		// 失败也要带回原始响应, 尝试记录靠它做事后诊断
		partial := &strategyResult{}
		if outcome != nil {
			partial.RawResponse = outcome.RawResponse
			partial.Remediated = outcome.Remediated
			partial.PromptTokens = outcome.PromptTokens
			partial.ResponseTokens = outcome.ResponseTokens
		}
		if errors.Is(err, parser.ErrSchemaViolation) {
			return partial, NewValidationError(record.ResumeID, err.Error())
		}
		return partial, NewExtractionError(record.ResumeID, err.Error())
	}

	parsed, err := json.Marshal(outcome.Document)
	if err != nil {
		return nil, NewValidationError(record.ResumeID, err.Error())
	}

	return &strategyResult{
		ParsedJSON:     datatypes.JSON(parsed),
		RawResponse:    outcome.RawResponse,
		Remediated:     outcome.Remediated,
		PagesProcessed: pageCount,
		PromptTokens:   outcome.PromptTokens,
		ResponseTokens: outcome.ResponseTokens,
	}, nil
}

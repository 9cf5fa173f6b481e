// Package processor 编排简历提取的完整流程:
// 下载PDF、内容形态分析、按策略调用模型、归一化校验与状态落库
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/constants"
	"github.com/hamdidilekci/pdf-scraper/internal/logger"
	"github.com/hamdidilekci/pdf-scraper/internal/storage"
	"github.com/hamdidilekci/pdf-scraper/internal/storage/models"
	"github.com/hamdidilekci/pdf-scraper/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var extractorTracer = otel.Tracer("pdf-scraper/processor")

// Components 提取器依赖的组件集合
type Components struct {
	Analyzer   ContentAnalyzer
	Rasterizer PageRasterizer
	Gateway    ExtractionGateway
	Repo       ResumeRepository
	Fetcher    PDFFetcher
}

// ResumeExtractor 简历提取编排器
// 一次提取在请求生命周期内同步完成, 结果通过记录状态与尝试历史双写落库
type ResumeExtractor struct {
	analyzer   ContentAnalyzer
	rasterizer PageRasterizer
	gateway    ExtractionGateway
	repo       ResumeRepository
	fetcher    PDFFetcher
	cfg        *config.Config
}

// NewResumeExtractor 创建简历提取编排器, 所有组件必须非空
func NewResumeExtractor(comp Components, cfg *config.Config) (*ResumeExtractor, error) {
	if comp.Analyzer == nil {
		return nil, fmt.Errorf("内容分析器不能为空")
	}
	if comp.Rasterizer == nil {
		return nil, fmt.Errorf("位图提取器不能为空")
	}
	if comp.Gateway == nil {
		return nil, fmt.Errorf("模型网关不能为空")
	}
	if comp.Repo == nil {
		return nil, fmt.Errorf("简历存储不能为空")
	}
	if comp.Fetcher == nil {
		return nil, fmt.Errorf("PDF读取器不能为空")
	}
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	return &ResumeExtractor{
		analyzer:   comp.Analyzer,
		rasterizer: comp.Rasterizer,
		gateway:    comp.Gateway,
		repo:       comp.Repo,
		fetcher:    comp.Fetcher,
		cfg:        cfg,
	}, nil
}

// strategyResult 单次策略执行的产物
type strategyResult struct {
	ParsedJSON     datatypes.JSON // 归一化并通过校验的简历JSON
	RawResponse    string         // 网关原始响应(图像路径为首个成功页的响应)
	Remediated     bool           // 是否有调用经过补救重试
	PagesProcessed int            // 实际参与提取的页数
	PromptTokens   *int           // usage上报的输入token合计
	ResponseTokens *int           // usage上报的输出token合计
}

// attemptUpdate 把策略产物折算成尝试记录的诊断字段
func attemptUpdate(result *strategyResult, startedAt time.Time) models.AttemptUpdate {
	update := models.AttemptUpdate{
		DurationMS: time.Since(startedAt).Milliseconds(),
	}
	if result != nil {
		update.RawResponse = result.RawResponse
		update.Remediated = result.Remediated
		update.PagesProcessed = result.PagesProcessed
		update.PromptTokens = result.PromptTokens
		update.ResponseTokens = result.ResponseTokens
	}
	return update
}

// ExtractResume 对处于PENDING状态的简历执行一次完整提取
// 成功时记录置为COMPLETED并写入结构化简历, 失败时置为FAILED并记录用户可读的失败原因;
// 无论成败都会留下一条提取尝试历史
func (e *ResumeExtractor) ExtractResume(ctx context.Context, resumeID string) error {
	timeout := config.GetDuration(e.cfg.Extraction.Timeout, 120*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := extractorTracer.Start(ctx, "ResumeExtractor.ExtractResume")
	defer span.End()
	span.SetAttributes(attribute.String("resume.id", resumeID))

	record, err := e.repo.GetResumeByID(ctx, resumeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ExtractError{ResumeID: resumeID, Op: "load", BaseErr: ErrResumeNotFound}
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewDatabaseError(resumeID, err.Error())
	}
	if record == nil {
		return &ExtractError{ResumeID: resumeID, Op: "load", BaseErr: ErrResumeNotFound}
	}
	if record.Status != constants.StatusPending {
		return &ExtractError{
			ResumeID: resumeID,
			Op:       "load",
			BaseErr:  ErrResumeNotExtractble,
			Detail:   fmt.Sprintf("当前状态: %s", record.Status),
		}
	}

	pdfData, err := e.fetcher.GetResumePDF(ctx, record.FilePathOSS)
	if err != nil {
		e.failResume(ctx, resumeID, constants.MsgUnreadablePDF)
		tracing.RecordError(span, err, tracing.ErrorTypeObjectStore)
		return NewDownloadError(resumeID, err.Error())
	}

	// 分类器永不失败, 畸形输入退化为文本路径兜底
	analysis := e.analyzer.Analyze(ctx, pdfData)
	span.SetAttributes(
		attribute.String("resume.content_type", analysis.ContentType),
		attribute.String("resume.strategy", analysis.Strategy),
		attribute.Int("resume.page_count", analysis.PageCount),
	)

	model := e.modelForStrategy(analysis.Strategy)
	attempt := &models.ExtractionAttempt{
		ResumeID:  resumeID,
		Strategy:  analysis.Strategy,
		Model:     model,
		Status:    constants.StatusPending,
		StartedAt: time.Now(),
	}
	if analysisJSON, jerr := json.Marshal(analysis); jerr == nil {
		attempt.AnalysisJSON = datatypes.JSON(analysisJSON)
	}
	if err := e.repo.CreateAttempt(ctx, attempt); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewDatabaseError(resumeID, err.Error())
	}

	logger.Ctx(ctx).Info().
		Str("resume_id", resumeID).
		Str("content_type", analysis.ContentType).
		Str("strategy", analysis.Strategy).
		Str("model", model).
		Int("page_count", analysis.PageCount).
		Msg("开始简历提取")

	var result *strategyResult
	switch analysis.Strategy {
	case constants.StrategyImages:
		result, err = e.runImageStrategy(ctx, record, pdfData, model)
	default:
		result, err = e.runTextStrategy(ctx, record, pdfData, model, analysis.PageCount)
	}

	if err != nil {
		e.recordFailure(ctx, resumeID, attempt, result, err)
		tracing.RecordLLMError(span, err, model, "extract_resume")
		return err
	}

	if err := e.repo.MarkResumeCompleted(ctx, resumeID, result.ParsedJSON, analysis.ContentType, analysis.Strategy, analysis.PageCount); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			// 记录已被并发请求迁移, 尝试历史仍然记录本次结果
			logger.Ctx(ctx).Warn().Str("resume_id", resumeID).Msg("简历状态已被迁移, 跳过完成标记")
		} else {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return NewUpdateError(resumeID, err.Error())
		}
	}
	if err := e.repo.MarkAttemptCompleted(ctx, attempt.AttemptID, attemptUpdate(result, attempt.StartedAt)); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("resume_id", resumeID).Msg("标记提取尝试完成失败")
	}

	logger.Ctx(ctx).Info().
		Str("resume_id", resumeID).
		Bool("remediated", result.Remediated).
		Int("pages_processed", result.PagesProcessed).
		Msg("简历提取完成")
	return nil
}

// recordFailure 双写失败状态: 记录置为FAILED并给出用户可读原因, 尝试历史保留技术细节
func (e *ResumeExtractor) recordFailure(ctx context.Context, resumeID string, attempt *models.ExtractionAttempt, result *strategyResult, cause error) {
	e.failResume(ctx, resumeID, userMessageFor(cause))

	if err := e.repo.MarkAttemptFailed(ctx, attempt.AttemptID, cause.Error(), attemptUpdate(result, attempt.StartedAt)); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("resume_id", resumeID).Msg("标记提取尝试失败时出错")
	}
}

// failResume 把记录置为FAILED, 状态冲突只记日志
func (e *ResumeExtractor) failResume(ctx context.Context, resumeID, message string) {
	if err := e.repo.MarkResumeFailed(ctx, resumeID, message); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			logger.Ctx(ctx).Warn().Str("resume_id", resumeID).Msg("简历状态已被迁移, 跳过失败标记")
			return
		}
		logger.Ctx(ctx).Error().Err(err).Str("resume_id", resumeID).Msg("标记简历失败状态时出错")
	}
}

// modelForStrategy 文本路径用任务模型, 扫描件路径用多模态模型
func (e *ResumeExtractor) modelForStrategy(strategy string) string {
	if strategy == constants.StrategyImages {
		if e.cfg.OpenAI.VisionModel != "" {
			return e.cfg.OpenAI.VisionModel
		}
	}
	return e.cfg.GetModelForTask("resume_extraction")
}

// userMessageFor 把内部错误映射为可直接返回给调用方的失败原因
func userMessageFor(err error) string {
	switch {
	case errors.Is(err, ErrResumeDownloadFail):
		return constants.MsgUnreadablePDF
	case errors.Is(err, ErrValidationFailed), errors.Is(err, ErrNoPagesExtracted):
		return constants.MsgExtractionIncomplete
	default:
		return constants.MsgExtractionIncomplete
	}
}

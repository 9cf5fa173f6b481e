package handler

import (
	"context"
	"io"

	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/constants"
	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"github.com/cloudwego/hertz/pkg/app"
	hzutils "github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// ContentAnalyzer PDF内容形态分析能力
type ContentAnalyzer interface {
	Analyze(ctx context.Context, data []byte) *types.PDFAnalysis
}

// ExtractHandler 分析与元信息接口处理器
type ExtractHandler struct {
	cfg      *config.Config
	analyzer ContentAnalyzer
	store    ResumeStore
}

// NewExtractHandler 创建分析接口处理器
func NewExtractHandler(cfg *config.Config, analyzer ContentAnalyzer, store ResumeStore) *ExtractHandler {
	return &ExtractHandler{cfg: cfg, analyzer: analyzer, store: store}
}

// HandleAnalyze 只运行内容分类器, 返回分析结果而不落库
func (h *ExtractHandler) HandleAnalyze(c context.Context, ctx *app.RequestContext) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, hzutils.H{"error": "文件未找到"})
		return
	}
	if fileHeader.Size > h.cfg.Upload.MaxSizeBytes {
		ctx.JSON(consts.StatusRequestEntityTooLarge, hzutils.H{"error": constants.MsgFileTooLarge})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取上传文件失败"})
		return
	}

	// 分类器永不失败, 畸形输入返回文本型兜底分类
	analysis := h.analyzer.Analyze(c, data)
	ctx.JSON(consts.StatusOK, hzutils.H{"analysis": analysis})
}

// strategyInfo 提取策略的元信息描述
type strategyInfo struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	ContentType string  `json:"content_type"` // 该策略面向的内容形态
	Confidence  float64 `json:"confidence"`
}

// HandleStrategies 列出可用的提取策略
func (h *ExtractHandler) HandleStrategies(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, hzutils.H{
		"strategies": []strategyInfo{
			{
				ID:          constants.StrategyText,
				DisplayName: "Text-based PDF Extraction",
				ContentType: constants.ContentTypeTextBased,
				Confidence:  0.9,
			},
			{
				ID:          constants.StrategyImages,
				DisplayName: "Image-based PDF Extraction",
				ContentType: constants.ContentTypeScanned,
				Confidence:  0.7,
			},
		},
	})
}

// HandleDashboardStats 返回状态统计与最近的简历记录
func (h *ExtractHandler) HandleDashboardStats(c context.Context, ctx *app.RequestContext) {
	counts, err := h.store.CountResumesByStatus(c)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "统计简历状态失败"})
		return
	}

	recent, _, err := h.store.ListResumes(c, CallerID(ctx), 0, 5)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "查询最近简历失败"})
		return
	}

	ctx.JSON(consts.StatusOK, hzutils.H{
		"status_counts": counts,
		"recent":        recent,
	})
}

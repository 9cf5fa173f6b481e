package processor

import (
	"context"

	"github.com/hamdidilekci/pdf-scraper/internal/llm"
	"github.com/hamdidilekci/pdf-scraper/internal/storage/models"
	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"gorm.io/datatypes"
)

//
// PDF分析相关接口
//

// ContentAnalyzer PDF内容形态分析器接口
type ContentAnalyzer interface {
	// Analyze 对PDF字节做内容形态分类并返回推荐的提取策略
	// 实现永不失败, 畸形输入返回文本型兜底分类
	Analyze(ctx context.Context, data []byte) *types.PDFAnalysis
}

// PageRasterizer 页面位图提取器接口
type PageRasterizer interface {
	// ExtractPageImages 按页提取位图, 结果按页码升序排列
	ExtractPageImages(ctx context.Context, data []byte) ([]types.PageImage, error)
}

//
// 模型网关相关接口
//

// ExtractionGateway 简历结构化提取的模型网关接口
type ExtractionGateway interface {
	// ExtractFromPDF 将整份PDF交给模型提取结构化简历
	ExtractFromPDF(ctx context.Context, pdfData []byte, filename string, model string) (*llm.ExtractionOutcome, error)

	// ExtractFromPageImage 通过多模态模型从单页位图提取简历片段
	ExtractFromPageImage(ctx context.Context, img types.PageImage, model string) (*llm.ExtractionOutcome, error)
}

//
// 存储相关接口
//

// ResumeRepository 提取流程需要的简历持久化能力
type ResumeRepository interface {
	GetResumeByID(ctx context.Context, resumeID string) (*models.ResumeRecord, error)
	MarkResumeCompleted(ctx context.Context, resumeID string, parsed datatypes.JSON, contentType, strategy string, pageCount int) error
	MarkResumeFailed(ctx context.Context, resumeID string, failureMessage string) error
	CreateAttempt(ctx context.Context, attempt *models.ExtractionAttempt) error
	MarkAttemptCompleted(ctx context.Context, attemptID uint64, update models.AttemptUpdate) error
	MarkAttemptFailed(ctx context.Context, attemptID uint64, errorMessage string, update models.AttemptUpdate) error
}

// PDFFetcher 从对象存储读取原始PDF的能力
type PDFFetcher interface {
	GetResumePDF(ctx context.Context, objectKey string) ([]byte, error)
}

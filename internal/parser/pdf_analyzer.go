package parser

import (
	"bytes"
	"context"

	"github.com/hamdidilekci/pdf-scraper/internal/constants"
	"github.com/hamdidilekci/pdf-scraper/internal/logger"
	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var analyzerTracer = otel.Tracer("pdf-scraper/parser/analyzer")

// 文本类内容的标志: 字体资源与文本显示操作符
var textTokens = [][]byte{
	[]byte("/Font"),
	[]byte("BT"),
	[]byte("Tj"),
	[]byte("TJ"),
}

// 图像类内容的标志: XObject图像与常见图像编码滤波器
var imageTokens = [][]byte{
	[]byte("/XObject"),
	[]byte("/Image"),
	[]byte("/DCTDecode"),
	[]byte("/JPXDecode"),
	[]byte("/CCITTFaxDecode"),
}

// 整页扫描件常用的图像编码, 命中时按SCANNED而非IMAGE_BASED分类
var scanCodecTokens = [][]byte{
	[]byte("/DCTDecode"),
	[]byte("/JPXDecode"),
	[]byte("/CCITTFaxDecode"),
}

// PDFAnalyzer 通过扫描PDF前缀字节对内容形态进行启发式分类
// 分类结果决定走文本路径还是扫描件路径
// 这是一个快速预分类器而非PDF结构解析器, 下游策略需容忍误判
type PDFAnalyzer struct {
	scanLimit       int     // 参与分类的前缀字节数
	minTextTokens   int     // 文本标志的噪声下限, 低于该值按无文本处理
	dominanceMargin float64 // 一方计数超过另一方该倍数即判定占优
}

// PDFAnalyzerOption 分析器配置选项
type PDFAnalyzerOption func(*PDFAnalyzer)

// WithScanLimit 设置参与分类的前缀字节数
func WithScanLimit(limit int) PDFAnalyzerOption {
	return func(a *PDFAnalyzer) {
		if limit > 0 {
			a.scanLimit = limit
		}
	}
}

// WithMinTextTokens 设置文本标志的噪声下限
func WithMinTextTokens(min int) PDFAnalyzerOption {
	return func(a *PDFAnalyzer) {
		if min > 0 {
			a.minTextTokens = min
		}
	}
}

// WithDominanceMargin 设置占优判定的倍数阈值
// 阈值是经验值而非定论, 保持可调
func WithDominanceMargin(margin float64) PDFAnalyzerOption {
	return func(a *PDFAnalyzer) {
		if margin > 1 {
			a.dominanceMargin = margin
		}
	}
}

// NewPDFAnalyzer 创建PDF内容分析器
func NewPDFAnalyzer(opts ...PDFAnalyzerOption) *PDFAnalyzer {
	a := &PDFAnalyzer{
		scanLimit:       constants.ClassifierScanLimit,
		minTextTokens:   5,
		dominanceMargin: 1.3,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze 对PDF字节做内容形态分类并返回推荐的提取策略
// 永不失败: 空输入或畸形输入退化为文本型兜底分类, 下游始终有可走的路径
func (a *PDFAnalyzer) Analyze(ctx context.Context, data []byte) *types.PDFAnalysis {
	ctx, span := analyzerTracer.Start(ctx, "PDFAnalyzer.Analyze")
	defer span.End()

	// 只扫描前缀，简历通常在前几页就能体现内容形态
	scanned := data
	if len(scanned) > a.scanLimit {
		scanned = scanned[:a.scanLimit]
	}

	textCount := 0
	for _, token := range textTokens {
		textCount += bytes.Count(scanned, token)
	}
	if textCount < a.minTextTokens {
		textCount = 0
	}
	imageCount := 0
	for _, token := range imageTokens {
		imageCount += bytes.Count(scanned, token)
	}
	scanCodecHit := false
	for _, token := range scanCodecTokens {
		if bytes.Contains(scanned, token) {
			scanCodecHit = true
			break
		}
	}

	analysis := &types.PDFAnalysis{
		PageCount:    countPageObjects(scanned),
		HasText:      textCount > 0,
		HasImages:    imageCount > 0,
		ScannedBytes: len(scanned),
	}
	analysis.ContentType, analysis.Strategy = a.classify(textCount, imageCount, scanCodecHit)
	analysis.TextRatio, analysis.ImageRatio = ratios(textCount, imageCount)

	span.SetAttributes(
		attribute.Int("pdf.page_count", analysis.PageCount),
		attribute.Int("pdf.text_tokens", textCount),
		attribute.Int("pdf.image_tokens", imageCount),
		attribute.String("pdf.content_type", analysis.ContentType),
		attribute.String("pdf.strategy", analysis.Strategy),
	)

	logger.Ctx(ctx).Debug().
		Int("page_count", analysis.PageCount).
		Int("text_tokens", textCount).
		Int("image_tokens", imageCount).
		Str("content_type", analysis.ContentType).
		Str("strategy", analysis.Strategy).
		Msg("PDF内容形态分类完成")

	return analysis
}

// classify 根据两类标志计数决定内容形态与提取策略
func (a *PDFAnalyzer) classify(textCount, imageCount int, scanCodecHit bool) (contentType, strategy string) {
	imageType := constants.ContentTypeImageBased
	if scanCodecHit {
		imageType = constants.ContentTypeScanned
	}

	switch {
	case textCount == 0 && imageCount == 0:
		// 无任何标志时按文本路径交给模型兜底
		return constants.ContentTypeTextBased, constants.StrategyText
	case textCount > 0 && imageCount == 0:
		return constants.ContentTypeTextBased, constants.StrategyText
	case imageCount > 0 && textCount == 0:
		return imageType, constants.StrategyImages
	case float64(textCount) >= a.dominanceMargin*float64(imageCount):
		return constants.ContentTypeTextBased, constants.StrategyText
	case float64(imageCount) >= a.dominanceMargin*float64(textCount):
		return imageType, constants.StrategyImages
	case textCount >= imageCount:
		return constants.ContentTypeMixed, constants.StrategyText
	default:
		return constants.ContentTypeMixed, constants.StrategyImages
	}
}

// ratios 把两类计数归一化为占比, 无标志时给出固定的文本倾斜兜底
func ratios(textCount, imageCount int) (textRatio, imageRatio float64) {
	total := textCount + imageCount
	if total == 0 {
		return 0.9, 0.1
	}
	return float64(textCount) / float64(total), float64(imageCount) / float64(total)
}

// countPageObjects 统计前缀中的页对象声明估算页数, 至少为1
// "/Type /Page" 会同时匹配 "/Type /Pages" 前缀, 需要减掉页树节点
func countPageObjects(scanned []byte) int {
	count := 0
	for _, pat := range [][]byte{[]byte("/Type /Page"), []byte("/Type/Page")} {
		plural := append(append([]byte{}, pat...), 's')
		count += bytes.Count(scanned, pat) - bytes.Count(scanned, plural)
	}
	if count < 1 {
		return 1
	}
	return count
}

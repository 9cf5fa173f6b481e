package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hamdidilekci/pdf-scraper/internal/logger"
	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var rasterizerTracer = otel.Tracer("pdf-scraper/parser/rasterizer")

// PDFRasterizer 从扫描件PDF中按页提取内嵌位图
// 扫描件的每一页通常就是一张整页图像，提取该图像即得到页面的可视内容
type PDFRasterizer struct {
	maxPages int // 处理的最大页数，超出的页被丢弃
}

// NewPDFRasterizer 创建位图提取器
func NewPDFRasterizer(maxPages int) *PDFRasterizer {
	if maxPages <= 0 {
		maxPages = 10
	}
	return &PDFRasterizer{maxPages: maxPages}
}

// ExtractPageImages 按页提取位图，返回结果按页码升序排列
// 单页提取失败不会中断整体流程，失败的页被跳过并记录日志
func (r *PDFRasterizer) ExtractPageImages(ctx context.Context, data []byte) ([]types.PageImage, error) {
	ctx, span := rasterizerTracer.Start(ctx, "PDFRasterizer.ExtractPageImages")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("PDF数据为空")
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	// 只提取前maxPages页
	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("解析PDF页数失败: %w", err)
	}
	lastPage := pageCount
	if lastPage > r.maxPages {
		logger.Ctx(ctx).Warn().
			Int("page_count", pageCount).
			Int("max_pages", r.maxPages).
			Msg("PDF页数超过上限, 超出的页将被丢弃")
		lastPage = r.maxPages
	}
	selectedPages := []string{fmt.Sprintf("1-%d", lastPage)}

	pageImages, err := api.ExtractImagesRaw(bytes.NewReader(data), selectedPages, conf)
	if err != nil {
		return nil, fmt.Errorf("提取PDF内嵌图像失败: %w", err)
	}

	var images []types.PageImage
	for _, pageMap := range pageImages {
		for _, img := range pageMap {
			pageImg, err := readPageImage(img)
			if err != nil {
				// 单页失败只跳过该页
				logger.Ctx(ctx).Warn().
					Err(err).
					Int("page", img.PageNr).
					Msg("读取单页图像失败, 跳过该页")
				continue
			}
			images = append(images, pageImg)
		}
	}

	// 每页保留最大的一张图像: 扫描件的整页图通常远大于页面上的图标或水印
	images = dedupeLargestPerPage(images)

	span.SetAttributes(
		attribute.Int("pdf.page_count", pageCount),
		attribute.Int("pdf.pages_selected", lastPage),
		attribute.Int("pdf.images_extracted", len(images)),
	)

	if len(images) == 0 {
		return nil, fmt.Errorf("未能从PDF中提取到任何页面图像")
	}

	logger.Ctx(ctx).Debug().
		Int("pages_selected", lastPage).
		Int("images_extracted", len(images)).
		Msg("页面位图提取完成")

	return images, nil
}

// readPageImage 读取单张图像的全部字节
func readPageImage(img model.Image) (types.PageImage, error) {
	if img.Reader == nil {
		return types.PageImage{}, fmt.Errorf("页 %d 图像读取器为空", img.PageNr)
	}
	data, err := io.ReadAll(img)
	if err != nil {
		return types.PageImage{}, fmt.Errorf("读取页 %d 图像数据失败: %w", img.PageNr, err)
	}
	if len(data) == 0 {
		return types.PageImage{}, fmt.Errorf("页 %d 图像数据为空", img.PageNr)
	}
	return types.PageImage{
		PageNumber: img.PageNr,
		Format:     normalizeImageFormat(img.FileType),
		Data:       data,
	}, nil
}

// dedupeLargestPerPage 每页只保留字节数最大的一张图像，结果按页码升序排列
func dedupeLargestPerPage(images []types.PageImage) []types.PageImage {
	largest := make(map[int]types.PageImage, len(images))
	for _, img := range images {
		if cur, ok := largest[img.PageNumber]; !ok || len(img.Data) > len(cur.Data) {
			largest[img.PageNumber] = img
		}
	}
	result := make([]types.PageImage, 0, len(largest))
	for _, img := range largest {
		result = append(result, img)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PageNumber < result[j].PageNumber
	})
	return result
}

// normalizeImageFormat 将pdfcpu的文件类型归一化为MIME友好格式
func normalizeImageFormat(fileType string) string {
	switch strings.ToLower(fileType) {
	case "jpg", "jpeg":
		return "jpeg"
	case "", "png":
		return "png"
	case "tif", "tiff":
		return "tiff"
	default:
		return strings.ToLower(fileType)
	}
}

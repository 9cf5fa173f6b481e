// Package handler 承载HTTP入口: 上传、提取、查询与维护接口
package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/constants"
	"github.com/hamdidilekci/pdf-scraper/internal/logger"
	"github.com/hamdidilekci/pdf-scraper/internal/storage"
	"github.com/hamdidilekci/pdf-scraper/internal/storage/models"
	"github.com/hamdidilekci/pdf-scraper/pkg/utils"

	"github.com/cloudwego/hertz/pkg/app"
	hzutils "github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
	"gorm.io/gorm"
)

// ResumeStore 简历记录的持久化能力
type ResumeStore interface {
	CreateResumeRecord(ctx context.Context, record *models.ResumeRecord) error
	GetResumeByID(ctx context.Context, resumeID string) (*models.ResumeRecord, error)
	ListResumes(ctx context.Context, callerID string, cursor int64, size int64) ([]models.ResumeRecord, int64, error)
	CountResumesByStatus(ctx context.Context) (map[string]int64, error)
	DeleteResume(ctx context.Context, resumeID string) error
	ResetResumeToPending(ctx context.Context, resumeID string) error
	ListAttemptsByResume(ctx context.Context, resumeID string) ([]models.ExtractionAttempt, error)
}

// ObjectStore 原始PDF的对象存储能力
type ObjectStore interface {
	UploadResumePDF(ctx context.Context, resumeID string, reader io.Reader, fileSize int64) (string, error)
	GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
	DeleteFile(ctx context.Context, objectName string) error
}

// DedupLimiter 文件去重与调用方限流能力
type DedupLimiter interface {
	CheckAndAddFileMD5(ctx context.Context, md5Hex string, resumeID string) (exists bool, existingID string, err error)
	RemoveFileMD5(ctx context.Context, md5Hex string) error
	IncrementRateWindow(ctx context.Context, callerID string, window time.Duration) (int64, error)
}

// Extractor 请求范围内执行的简历提取能力
type Extractor interface {
	ExtractResume(ctx context.Context, resumeID string) error
}

// ResumeHandler 简历上传与查询处理器
type ResumeHandler struct {
	cfg       *config.Config
	store     ResumeStore
	objects   ObjectStore
	dedup     DedupLimiter
	extractor Extractor
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(cfg *config.Config, store ResumeStore, objects ObjectStore, dedup DedupLimiter, extractor Extractor) *ResumeHandler {
	return &ResumeHandler{
		cfg:       cfg,
		store:     store,
		objects:   objects,
		dedup:     dedup,
		extractor: extractor,
	}
}

// CallerID 解析调用方标识, 由边缘网关通过请求头传入
func CallerID(ctx *app.RequestContext) string {
	if id := string(ctx.GetHeader("X-Caller-ID")); id != "" {
		return id
	}
	return "anonymous"
}

// checkRateLimit 固定窗口限流检查, 超限时直接写出429响应
func (h *ResumeHandler) checkRateLimit(c context.Context, ctx *app.RequestContext, callerID string) bool {
	rl := h.cfg.RateLimit
	if !rl.Enabled || h.dedup == nil {
		return true
	}
	for _, exempt := range rl.ExemptAPIKeys {
		if callerID == exempt {
			return true
		}
	}

	window := config.GetDuration(rl.Window, time.Hour)
	count, err := h.dedup.IncrementRateWindow(c, callerID, window)
	if err != nil {
		// 限流器不可用时放行, 不拿可用性换限流
		logger.Ctx(c).Warn().Err(err).Str("caller_id", callerID).Msg("限流计数失败, 放行请求")
		return true
	}
	if rl.MaxPerWindow > 0 && count > int64(rl.MaxPerWindow) {
		ctx.JSON(consts.StatusTooManyRequests, hzutils.H{"error": constants.MsgRateLimited})
		return false
	}
	return true
}

// HandleUpload 处理简历上传: 校验、去重、落对象存储、建记录并同步执行提取
func (h *ResumeHandler) HandleUpload(c context.Context, ctx *app.RequestContext) {
	callerID := CallerID(ctx)
	if !h.checkRateLimit(c, ctx, callerID) {
		return
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, hzutils.H{"error": "文件未找到"})
		return
	}
	if fileHeader.Size > h.cfg.Upload.MaxSizeBytes {
		ctx.JSON(consts.StatusRequestEntityTooLarge, hzutils.H{"error": constants.MsgFileTooLarge})
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		ctx.JSON(consts.StatusBadRequest, hzutils.H{"error": constants.MsgInvalidFileType})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	fileBytes, err := io.ReadAll(file)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取上传文件失败"})
		return
	}
	// 魔数检查, 扩展名不可信
	if !bytes.HasPrefix(fileBytes, []byte("%PDF-")) {
		ctx.JSON(consts.StatusBadRequest, hzutils.H{"error": constants.MsgInvalidFileType})
		return
	}

	uuidV7, err := uuid.NewV7()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "生成简历ID失败"})
		return
	}
	resumeID := uuidV7.String()

	// 同一文件重复上传直接返回已有记录
	fileMD5 := utils.CalculateMD5(fileBytes)
	exists, existingID, err := h.dedup.CheckAndAddFileMD5(c, fileMD5, resumeID)
	if err != nil {
		logger.Ctx(c).Warn().Err(err).Str("md5", fileMD5).Msg("文件MD5去重检查失败, 按新文件处理")
	}
	if exists && existingID != "" {
		if existing, gerr := h.store.GetResumeByID(c, existingID); gerr == nil && existing != nil {
			logger.Ctx(c).Info().
				Str("md5", fileMD5).
				Str("resume_id", existingID).
				Msg("检测到重复文件, 返回已有记录")
			ctx.JSON(consts.StatusOK, hzutils.H{"duplicate": true, "resume": existing})
			return
		}
		// 映射指向的记录已不存在, 清掉脏映射后按新文件继续
		_ = h.dedup.RemoveFileMD5(c, fileMD5)
		if _, _, err := h.dedup.CheckAndAddFileMD5(c, fileMD5, resumeID); err != nil {
			logger.Ctx(c).Warn().Err(err).Str("md5", fileMD5).Msg("重建文件MD5映射失败")
		}
	}

	objectKey, err := h.objects.UploadResumePDF(c, resumeID, bytes.NewReader(fileBytes), int64(len(fileBytes)))
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "上传简历到对象存储失败"})
		return
	}

	record := &models.ResumeRecord{
		ResumeID:         resumeID,
		CallerID:         callerID,
		OriginalFilename: fileHeader.Filename,
		FilePathOSS:      objectKey,
		FileMD5:          fileMD5,
		FileSizeBytes:    int64(len(fileBytes)),
		Status:           constants.StatusPending,
	}
	if err := h.store.CreateResumeRecord(c, record); err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "创建简历记录失败"})
		return
	}

	// 提取在请求生命周期内同步完成, 结果通过记录状态体现
	extractErr := h.extractor.ExtractResume(c, resumeID)
	if extractErr != nil {
		logger.Ctx(c).Warn().Err(extractErr).Str("resume_id", resumeID).Msg("简历提取失败")
	}

	final, err := h.store.GetResumeByID(c, resumeID)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取简历记录失败"})
		return
	}
	ctx.JSON(consts.StatusOK, hzutils.H{"duplicate": false, "resume": final})
}

// HandleGetResume 返回单条简历记录及其提取尝试历史
func (h *ResumeHandler) HandleGetResume(c context.Context, ctx *app.RequestContext) {
	resumeID := ctx.Param("id")
	record, err := h.store.GetResumeByID(c, resumeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(consts.StatusNotFound, hzutils.H{"error": "简历记录不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取简历记录失败"})
		return
	}

	attempts, err := h.store.ListAttemptsByResume(c, resumeID)
	if err != nil {
		logger.Ctx(c).Warn().Err(err).Str("resume_id", resumeID).Msg("读取提取尝试历史失败")
	}
	ctx.JSON(consts.StatusOK, hzutils.H{"resume": record, "attempts": attempts})
}

// HandleListResumes 按创建时间倒序分页列出调用方的简历记录
func (h *ResumeHandler) HandleListResumes(c context.Context, ctx *app.RequestContext) {
	callerID := CallerID(ctx)

	cursor := int64(0)
	if v, err := strconv.ParseInt(ctx.Query("cursor"), 10, 64); err == nil && v >= 0 {
		cursor = v
	}
	size := int64(20)
	if v, err := strconv.ParseInt(ctx.Query("size"), 10, 64); err == nil && v > 0 && v <= 100 {
		size = v
	}

	records, total, err := h.store.ListResumes(c, callerID, cursor, size)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "查询简历记录失败"})
		return
	}
	nextCursor := cursor + int64(len(records))
	ctx.JSON(consts.StatusOK, hzutils.H{
		"resumes":     records,
		"total":       total,
		"next_cursor": nextCursor,
		"has_more":    nextCursor < total,
	})
}

// HandleDeleteResume 删除简历记录、尝试历史与对象存储文件
func (h *ResumeHandler) HandleDeleteResume(c context.Context, ctx *app.RequestContext) {
	resumeID := ctx.Param("id")

	record, err := h.store.GetResumeByID(c, resumeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(consts.StatusNotFound, hzutils.H{"error": "简历记录不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取简历记录失败"})
		return
	}

	if err := h.store.DeleteResume(c, resumeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(consts.StatusNotFound, hzutils.H{"error": "简历记录不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "删除简历记录失败"})
		return
	}

	// 对象与去重映射清理尽力而为
	if record.FileMD5 != "" {
		if err := h.dedup.RemoveFileMD5(c, record.FileMD5); err != nil {
			logger.Ctx(c).Warn().Err(err).Str("resume_id", resumeID).Msg("清理文件MD5映射失败")
		}
	}
	if record.FilePathOSS != "" {
		if err := h.objects.DeleteFile(c, record.FilePathOSS); err != nil {
			logger.Ctx(c).Warn().Err(err).Str("resume_id", resumeID).Msg("清理对象存储文件失败")
		}
	}

	ctx.JSON(consts.StatusOK, hzutils.H{"deleted": true})
}

// HandleDownloadURL 返回原始PDF的预签名下载链接
func (h *ResumeHandler) HandleDownloadURL(c context.Context, ctx *app.RequestContext) {
	resumeID := ctx.Param("id")
	record, err := h.store.GetResumeByID(c, resumeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(consts.StatusNotFound, hzutils.H{"error": "简历记录不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取简历记录失败"})
		return
	}

	url, err := h.objects.GetPresignedURL(c, record.FilePathOSS, constants.PresignedURLExpiry)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "生成下载链接失败"})
		return
	}
	ctx.JSON(consts.StatusOK, hzutils.H{
		"url":        url,
		"expires_in": int64(constants.PresignedURLExpiry.Seconds()),
	})
}

// HandleReExtract 对已有记录重新执行提取, 产生新的尝试历史
func (h *ResumeHandler) HandleReExtract(c context.Context, ctx *app.RequestContext) {
	callerID := CallerID(ctx)
	if !h.checkRateLimit(c, ctx, callerID) {
		return
	}

	resumeID := ctx.Param("id")
	record, err := h.store.GetResumeByID(c, resumeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(consts.StatusNotFound, hzutils.H{"error": "简历记录不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取简历记录失败"})
		return
	}

	// 终态记录先回到PENDING, 本就PENDING的记录直接提取
	if record.Status != constants.StatusPending {
		if err := h.store.ResetResumeToPending(c, resumeID); err != nil {
			if errors.Is(err, storage.ErrStatusConflict) {
				ctx.JSON(consts.StatusConflict, hzutils.H{"error": "简历当前状态不允许重新提取"})
				return
			}
			ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "重置简历状态失败"})
			return
		}
	}

	if err := h.extractor.ExtractResume(c, resumeID); err != nil {
		logger.Ctx(c).Warn().Err(err).Str("resume_id", resumeID).Msg("重新提取失败")
	}

	final, err := h.store.GetResumeByID(c, resumeID)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, hzutils.H{"error": "读取简历记录失败"})
		return
	}
	ctx.JSON(consts.StatusOK, hzutils.H{"resume": final})
}

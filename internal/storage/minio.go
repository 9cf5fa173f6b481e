package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/hamdidilekci/pdf-scraper/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// UploadFile 上传文件到指定路径
	UploadFile(ctx context.Context, objectName string, reader io.Reader, fileSize int64, contentType string) (string, error)

	// DownloadFile 下载文件
	DownloadFile(ctx context.Context, objectName string) ([]byte, error)

	// GetPresignedURL 获取预签名URL
	GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)

	// DeleteFile 删除文件
	DeleteFile(ctx context.Context, objectName string) error

	// 简历特定操作
	UploadResumePDF(ctx context.Context, resumeID string, reader io.Reader, fileSize int64) (string, error)
	GetResumePDF(ctx context.Context, objectKey string) ([]byte, error)

	// 流式上传并计算MD5
	UploadResumePDFStreaming(ctx context.Context, resumeID string, reader io.Reader, fileSize int64) (string, string, error)
}

// 确保MinIO实现了ObjectStorage接口
var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client        *minio.Client
	cfg           *config.MinIOConfig
	resumesBucket string
	logger        *log.Logger
}

// NewMinIO 创建MinIO客户端
func NewMinIO(cfg *config.MinIOConfig, logger *log.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("[MinIO] Initializing MinIO client with endpoint: %s, resumesBucket: %s", cfg.Endpoint, cfg.ResumesBucket)

	// 创建MinIO客户端
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		logger.Printf("[MinIO] Initialization failed: %v", err)
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	// 设置存储桶名称
	resumesBucket := cfg.ResumesBucket
	if resumesBucket == "" {
		resumesBucket = "resumes" // 默认值
	}

	m := &MinIO{
		client:        client,
		cfg:           cfg,
		resumesBucket: resumesBucket,
		logger:        logger,
	}

	// 确保存储桶存在
	err = m.ensureBucketExists(resumesBucket, cfg.Location)
	if err != nil {
		logger.Printf("[MinIO] Failed to ensure resumes bucket %s exists: %v", resumesBucket, err)
		return nil, fmt.Errorf("确保简历存储桶 %s 存在失败: %w", resumesBucket, err)
	}

	// 设置生命周期规则
	if cfg.ResumeFileExpireDays > 0 {
		err = m.setupLifecycleRules(context.Background())
		if err != nil {
			logger.Printf("[MinIO] Warning: Failed to set up lifecycle rules: %v", err)
		}
	}

	logger.Printf("[MinIO] Client initialized successfully for endpoint: %s", cfg.Endpoint)
	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	m.logger.Printf("[MinIO] Ensuring bucket exists: %s (Location: %s)", bucketName, location)
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		m.logger.Printf("[MinIO] Error checking if bucket %s exists: %v", bucketName, err)
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if !exists {
		m.logger.Printf("[MinIO] Bucket %s does not exist, attempting to create...", bucketName)
		err = m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location})
		if err != nil {
			m.logger.Printf("[MinIO] Error creating bucket %s: %v", bucketName, err)
			return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
		}
		m.logger.Printf("[MinIO] Bucket %s created successfully.", bucketName)
	} else {
		m.logger.Printf("[MinIO] Bucket %s already exists.", bucketName)
	}
	return nil
}

// setupLifecycleRules 设置对象生命周期规则
func (m *MinIO) setupLifecycleRules(ctx context.Context) error {
	m.logger.Printf("[MinIO] Setting up lifecycle rules...")
	if m.cfg.ResumeFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.resumesBucket, "expire-resumes", m.cfg.ResumeFileExpireDays); err != nil {
			return fmt.Errorf("为简历存储桶 %s 设置生命周期失败: %w", m.resumesBucket, err)
		}
	}
	m.logger.Printf("[MinIO] Lifecycle rules setup completed.")
	return nil
}

// setupBucketLifecycle 为指定存储桶设置生命周期规则
func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	m.logger.Printf("[MinIO] Setting lifecycle rule for bucket %s: ID=%s, ExpiryDays=%d", bucketName, ruleID, expiryDays)
	config := lifecycle.NewConfiguration()
	config.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}

	err := m.client.SetBucketLifecycle(ctx, bucketName, config)
	if err != nil {
		m.logger.Printf("[MinIO] Error setting lifecycle for bucket %s: %v", bucketName, err)
		return err
	}
	m.logger.Printf("[MinIO] Successfully set lifecycle for bucket %s.", bucketName)
	return nil
}

// UploadFile 上传文件到简历存储桶
func (m *MinIO) UploadFile(ctx context.Context, objectName string, reader io.Reader, fileSize int64, contentType string) (string, error) {
	m.logger.Printf("[MinIO] Uploading file: ObjectName=%s, Size=%d, ContentType=%s", objectName, fileSize, contentType)

	// 如果配置允许，并且提供了logger，则记录输入
	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-UploadFile] Attempting to upload: ObjectName='%s', FileSize=%d, ContentType='%s', Bucket='%s'", objectName, fileSize, contentType, m.resumesBucket)
	}

	uploadInfo, err := m.client.PutObject(ctx, m.resumesBucket, objectName, reader, fileSize, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
			m.logger.Printf("[MinIO-UploadFile] Error uploading %s: %v", objectName, err)
		}
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.resumesBucket, objectName, err)
	}

	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-UploadFile] Successfully uploaded %s, ETag: %s, Size: %d", objectName, uploadInfo.ETag, uploadInfo.Size)
	}
	return objectName, nil
}

// uploadFileFromBytes 从字节数组上传文件 (私有辅助方法)
func (m *MinIO) uploadFileFromBytes(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	return m.UploadFile(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentType)
}

// UploadResumePDF 上传原始简历PDF到简历存储桶
// 返回MinIO中的对象键 (不含bucket前缀)
func (m *MinIO) UploadResumePDF(ctx context.Context, resumeID string, reader io.Reader, fileSize int64) (string, error) {
	// 构建对象名称，例如: resume/<resumeID>/original.pdf
	objectName := resumeObjectKey(resumeID)

	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-UploadResumePDF] Uploading: ResumeID='%s', ObjectName='%s', Bucket='%s'", resumeID, objectName, m.resumesBucket)
	}

	uploadedObjectName, err := m.UploadFile(ctx, objectName, reader, fileSize, "application/pdf")
	if err != nil {
		if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
			m.logger.Printf("[MinIO-UploadResumePDF] Error during UploadFile call: %v", err)
		}
		return "", err
	}

	// 正常情况下，uploadedObjectName 应该等于 objectName
	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard && uploadedObjectName != objectName {
		m.logger.Printf("[MinIO-UploadResumePDF] Warning: UploadFile returned '%s' but expected '%s'", uploadedObjectName, objectName)
	}

	return objectName, nil
}

// UploadResumePDFStreaming 流式上传简历PDF并同时计算MD5
// 返回: objectKey, md5Hex, error
func (m *MinIO) UploadResumePDFStreaming(ctx context.Context, resumeID string, reader io.Reader, fileSize int64) (string, string, error) {
	objectName := resumeObjectKey(resumeID)

	// 创建MD5哈希计算器
	md5Hash := md5.New()

	// 使用TeeReader同时读取到哈希计算器
	teeReader := io.TeeReader(reader, md5Hash)

	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-UploadResumePDFStreaming] Uploading: ResumeID='%s', ObjectName='%s', Bucket='%s'",
			resumeID, objectName, m.resumesBucket)
	}

	// 将文件流式上传到MinIO
	info, err := m.client.PutObject(ctx, m.resumesBucket, objectName, teeReader,
		fileSize, minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return "", "", fmt.Errorf("流式上传文件到MinIO失败: %w", err)
	}

	// 计算MD5哈希值
	md5Hex := hex.EncodeToString(md5Hash.Sum(nil))

	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-UploadResumePDFStreaming] Successfully uploaded %s, ETag: %s, Size: %d, MD5: %s",
			objectName, info.ETag, info.Size, md5Hex)
	}

	return objectName, md5Hex, nil
}

// DownloadFile 下载文件
func (m *MinIO) DownloadFile(ctx context.Context, objectName string) ([]byte, error) {
	m.logger.Printf("[MinIO] Downloading file: ObjectName=%s", objectName)

	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-DownloadFile] Downloading: ObjectName='%s', Bucket='%s'", objectName, m.resumesBucket)
	}

	obj, err := m.client.GetObject(ctx, m.resumesBucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
			m.logger.Printf("[MinIO-DownloadFile] Error getting object %s: %v", objectName, err)
		}
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.resumesBucket, objectName, err)
	}
	defer obj.Close()

	// 检查对象状态，这对于了解对象是否存在或是否有权限访问很有用
	stat, err := obj.Stat()
	if err != nil {
		m.logger.Printf("[MinIO] Failed to stat object %s/%s after GetObject: %v", m.resumesBucket, objectName, err)
		return nil, fmt.Errorf("获取对象 %s/%s 状态失败: %w", m.resumesBucket, objectName, err)
	}
	m.logger.Printf("[MinIO] Object %s/%s stats: Size=%d, ContentType=%s", m.resumesBucket, objectName, stat.Size, stat.ContentType)

	data, err := io.ReadAll(obj)
	if err != nil {
		if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
			m.logger.Printf("[MinIO-DownloadFile] Error reading object data for %s: %v", objectName, err)
		}
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", m.resumesBucket, objectName, err)
	}
	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-DownloadFile] Successfully downloaded %d bytes from %s/%s.", len(data), m.resumesBucket, objectName)
	}
	return data, nil
}

// GetResumePDF 从MinIO获取简历PDF
func (m *MinIO) GetResumePDF(ctx context.Context, objectKey string) ([]byte, error) {
	m.logger.Printf("[MinIO] Getting resume file: Bucket=%s, ObjectKey=%s", m.resumesBucket, objectKey)
	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-GetResumePDF] Getting: ObjectKey='%s', Bucket='%s'", objectKey, m.resumesBucket)
	}
	return m.DownloadFile(ctx, objectKey)
}

// GetPresignedURL 获取预签名URL
func (m *MinIO) GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	m.logger.Printf("[MinIO] Generating presigned URL for: %s, Expiry: %s", objectName, expiry)

	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-GetPresignedURL] Generating for: ObjectName='%s', Bucket='%s', Expiry=%s", objectName, m.resumesBucket, expiry)
	}

	presignedURL, err := m.client.PresignedGetObject(ctx, m.resumesBucket, objectName, expiry, nil)
	if err != nil {
		if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
			m.logger.Printf("[MinIO-GetPresignedURL] Error generating for %s: %v", objectName, err)
		}
		return "", fmt.Errorf("生成MinIO预签名URL失败: %w", err)
	}
	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-GetPresignedURL] Successfully generated for %s: %s", objectName, presignedURL.String())
	}
	return presignedURL.String(), nil
}

// DeleteFile 删除文件
func (m *MinIO) DeleteFile(ctx context.Context, objectName string) error {
	m.logger.Printf("[MinIO] Deleting object: %s", objectName)

	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-DeleteFile] Deleting: ObjectName='%s', Bucket='%s'", objectName, m.resumesBucket)
	}

	err := m.client.RemoveObject(ctx, m.resumesBucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
			m.logger.Printf("[MinIO-DeleteFile] Error deleting %s: %v", objectName, err)
		}
		return fmt.Errorf("删除对象 %s 失败: %w", objectName, err)
	}
	if m.cfg.EnableTestLogging && m.logger != nil && m.logger.Writer() != io.Discard {
		m.logger.Printf("[MinIO-DeleteFile] Successfully deleted %s", objectName)
	}
	return nil
}

// StatObject 暴露底层的StatObject方法，用于测试或特定场景
func (m *MinIO) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return m.client.StatObject(ctx, bucketName, objectName, opts)
}

// RemoveObject 暴露底层的RemoveObject方法，用于测试或特定场景
func (m *MinIO) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return m.client.RemoveObject(ctx, bucketName, objectName, opts)
}

// resumeObjectKey 构建简历存储桶内的对象键
func resumeObjectKey(resumeID string) string {
	return fmt.Sprintf("resume/%s/original.pdf", resumeID)
}

// getContentType 通过扩展名获取内容类型
func getContentType(ext string) string {
	ext = strings.ToLower(ext)
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

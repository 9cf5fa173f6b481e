package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"testing"
	"time"

	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/constants"
	"github.com/hamdidilekci/pdf-scraper/internal/storage/models"
	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ----- 测试替身 -----

type fakeStore struct {
	records  map[string]*models.ResumeRecord
	attempts map[string][]models.ExtractionAttempt
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:  make(map[string]*models.ResumeRecord),
		attempts: make(map[string][]models.ExtractionAttempt),
	}
}

func (f *fakeStore) CreateResumeRecord(ctx context.Context, record *models.ResumeRecord) error {
	f.records[record.ResumeID] = record
	return nil
}

func (f *fakeStore) GetResumeByID(ctx context.Context, resumeID string) (*models.ResumeRecord, error) {
	if r, ok := f.records[resumeID]; ok {
		return r, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) ListResumes(ctx context.Context, callerID string, cursor int64, size int64) ([]models.ResumeRecord, int64, error) {
	var out []models.ResumeRecord
	for _, r := range f.records {
		if callerID == "" || r.CallerID == callerID {
			out = append(out, *r)
		}
	}
	total := int64(len(out))
	if cursor >= total {
		return nil, total, nil
	}
	end := cursor + size
	if end > total {
		end = total
	}
	return out[cursor:end], total, nil
}

func (f *fakeStore) CountResumesByStatus(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, r := range f.records {
		counts[r.Status]++
	}
	return counts, nil
}

func (f *fakeStore) DeleteResume(ctx context.Context, resumeID string) error {
	if _, ok := f.records[resumeID]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(f.records, resumeID)
	delete(f.attempts, resumeID)
	return nil
}

func (f *fakeStore) ResetResumeToPending(ctx context.Context, resumeID string) error {
	if r, ok := f.records[resumeID]; ok {
		r.Status = constants.StatusPending
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeStore) ListAttemptsByResume(ctx context.Context, resumeID string) ([]models.ExtractionAttempt, error) {
	return f.attempts[resumeID], nil
}

type fakeObjects struct {
	uploaded map[string][]byte
	deleted  []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{uploaded: make(map[string][]byte)}
}

func (f *fakeObjects) UploadResumePDF(ctx context.Context, resumeID string, reader io.Reader, fileSize int64) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("resume/%s/original.pdf", resumeID)
	f.uploaded[key] = data
	return key, nil
}

func (f *fakeObjects) GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	return "https://minio.local/" + objectName + "?signed=1", nil
}

func (f *fakeObjects) DeleteFile(ctx context.Context, objectName string) error {
	f.deleted = append(f.deleted, objectName)
	return nil
}

type fakeDedup struct {
	md5ToID    map[string]string
	rateCounts map[string]int64
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{md5ToID: make(map[string]string), rateCounts: make(map[string]int64)}
}

func (f *fakeDedup) CheckAndAddFileMD5(ctx context.Context, md5Hex string, resumeID string) (bool, string, error) {
	if id, ok := f.md5ToID[md5Hex]; ok {
		return true, id, nil
	}
	f.md5ToID[md5Hex] = resumeID
	return false, "", nil
}

func (f *fakeDedup) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	delete(f.md5ToID, md5Hex)
	return nil
}

func (f *fakeDedup) IncrementRateWindow(ctx context.Context, callerID string, window time.Duration) (int64, error) {
	f.rateCounts[callerID]++
	return f.rateCounts[callerID], nil
}

// fakeExtractor 模拟提取: 直接把记录标成完成
type fakeExtractor struct {
	store  *fakeStore
	failWi bool
	calls  int
}

func (f *fakeExtractor) ExtractResume(ctx context.Context, resumeID string) error {
	f.calls++
	r, ok := f.store.records[resumeID]
	if !ok {
		return fmt.Errorf("简历记录不存在")
	}
	if f.failWi {
		r.Status = constants.StatusFailed
		r.FailureMessage = constants.MsgExtractionIncomplete
		return fmt.Errorf("模型提取失败")
	}
	r.Status = constants.StatusCompleted
	return nil
}

type fakeAnalyzer struct {
	analysis *types.PDFAnalysis
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, data []byte) *types.PDFAnalysis {
	if f.analysis != nil {
		return f.analysis
	}
	return &types.PDFAnalysis{
		ContentType: constants.ContentTypeTextBased,
		Strategy:    constants.StrategyText,
		PageCount:   1,
	}
}

// ----- 辅助构造 -----

func handlerTestConfig() *config.Config {
	return &config.Config{
		Upload: config.UploadConfig{MaxSizeBytes: 10 << 20},
		RateLimit: config.RateLimitConfig{
			Enabled:      true,
			MaxPerWindow: 10,
			Window:       "1h",
		},
	}
}

type testEnv struct {
	engine    *server.Hertz
	store     *fakeStore
	objects   *fakeObjects
	dedup     *fakeDedup
	extractor *fakeExtractor
}

func newTestEnv(cfg *config.Config) *testEnv {
	store := newFakeStore()
	objects := newFakeObjects()
	dedup := newFakeDedup()
	extractor := &fakeExtractor{store: store}

	rh := NewResumeHandler(cfg, store, objects, dedup, extractor)

	h := server.Default()
	h.POST("/api/v1/resumes", rh.HandleUpload)
	h.GET("/api/v1/resumes", rh.HandleListResumes)
	h.GET("/api/v1/resumes/:id", rh.HandleGetResume)
	h.DELETE("/api/v1/resumes/:id", rh.HandleDeleteResume)
	h.GET("/api/v1/resumes/:id/download", rh.HandleDownloadURL)
	h.POST("/api/v1/resumes/:id/extract", rh.HandleReExtract)

	return &testEnv{engine: h, store: store, objects: objects, dedup: dedup, extractor: extractor}
}

// buildPDFUpload 构造带PDF文件的multipart请求体
func buildPDFUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func performUpload(t *testing.T, env *testEnv, filename string, content []byte, headers ...ut.Header) *ut.ResponseRecorder {
	t.Helper()
	body, contentType := buildPDFUpload(t, filename, content)
	hs := append([]ut.Header{{Key: "Content-Type", Value: contentType}}, headers...)
	return ut.PerformRequest(env.engine.Engine, "POST", "/api/v1/resumes",
		&ut.Body{Body: bytes.NewReader(body.Bytes()), Len: body.Len()}, hs...)
}

// ----- 用例 -----

// TestHandleUploadHappyPath 验证上传后同步提取并返回完成的记录
func TestHandleUploadHappyPath(t *testing.T) {
	env := newTestEnv(handlerTestConfig())

	w := performUpload(t, env, "cv.pdf", []byte("%PDF-1.7 test"),
		ut.Header{Key: "X-Caller-ID", Value: "caller-1"})
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())

	var body struct {
		Duplicate bool                 `json:"duplicate"`
		Resume    *models.ResumeRecord `json:"resume"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.False(t, body.Duplicate)
	require.NotNil(t, body.Resume)
	assert.Equal(t, constants.StatusCompleted, body.Resume.Status)
	assert.Equal(t, "caller-1", body.Resume.CallerID)
	assert.Equal(t, "cv.pdf", body.Resume.OriginalFilename)
	assert.Equal(t, 1, env.extractor.calls)
	assert.Len(t, env.objects.uploaded, 1)
}

// TestHandleUploadRejectsNonPDF 验证扩展名与魔数双重校验
func TestHandleUploadRejectsNonPDF(t *testing.T) {
	env := newTestEnv(handlerTestConfig())

	// 扩展名不对
	w := performUpload(t, env, "cv.docx", []byte("%PDF-1.7"))
	assert.Equal(t, 400, w.Result().StatusCode())

	// 扩展名对但内容不是PDF
	w = performUpload(t, env, "cv.pdf", []byte("MZ not a pdf"))
	assert.Equal(t, 400, w.Result().StatusCode())

	assert.Equal(t, 0, env.extractor.calls)
}

// TestHandleUploadDuplicate 验证重复文件直接返回已有记录
func TestHandleUploadDuplicate(t *testing.T) {
	env := newTestEnv(handlerTestConfig())
	content := []byte("%PDF-1.7 same bytes")

	w := performUpload(t, env, "cv.pdf", content)
	require.Equal(t, 200, w.Result().StatusCode())
	require.Equal(t, 1, env.extractor.calls)

	w = performUpload(t, env, "cv.pdf", content)
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())

	var body struct {
		Duplicate bool `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.True(t, body.Duplicate)
	// 重复上传不触发二次提取
	assert.Equal(t, 1, env.extractor.calls)
}

// TestHandleUploadRateLimited 验证固定窗口限流
func TestHandleUploadRateLimited(t *testing.T) {
	cfg := handlerTestConfig()
	cfg.RateLimit.MaxPerWindow = 2
	env := newTestEnv(cfg)

	for i := 0; i < 2; i++ {
		w := performUpload(t, env, "cv.pdf", []byte(fmt.Sprintf("%%PDF-1.7 v%d", i)),
			ut.Header{Key: "X-Caller-ID", Value: "limited"})
		require.Equal(t, 200, w.Result().StatusCode())
	}

	w := performUpload(t, env, "cv.pdf", []byte("%PDF-1.7 v3"),
		ut.Header{Key: "X-Caller-ID", Value: "limited"})
	assert.Equal(t, 429, w.Result().StatusCode())
}

// TestHandleGetResume 验证单条查询返回记录与尝试历史
func TestHandleGetResume(t *testing.T) {
	env := newTestEnv(handlerTestConfig())
	env.store.records["res-1"] = &models.ResumeRecord{ResumeID: "res-1", Status: constants.StatusCompleted}
	env.store.attempts["res-1"] = []models.ExtractionAttempt{{AttemptID: 1, ResumeID: "res-1"}}

	w := ut.PerformRequest(env.engine.Engine, "GET", "/api/v1/resumes/res-1", nil)
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())

	var body struct {
		Resume   *models.ResumeRecord       `json:"resume"`
		Attempts []models.ExtractionAttempt `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, "res-1", body.Resume.ResumeID)
	assert.Len(t, body.Attempts, 1)
}

// TestHandleGetResumeNotFound 验证不存在的记录返回404
func TestHandleGetResumeNotFound(t *testing.T) {
	env := newTestEnv(handlerTestConfig())
	w := ut.PerformRequest(env.engine.Engine, "GET", "/api/v1/resumes/missing", nil)
	assert.Equal(t, 404, w.Result().StatusCode())
}

// TestHandleDeleteResume 验证删除时同时清理对象与去重映射
func TestHandleDeleteResume(t *testing.T) {
	env := newTestEnv(handlerTestConfig())
	env.store.records["res-1"] = &models.ResumeRecord{
		ResumeID:    "res-1",
		FileMD5:     "abc123",
		FilePathOSS: "resume/res-1/original.pdf",
	}
	env.dedup.md5ToID["abc123"] = "res-1"

	w := ut.PerformRequest(env.engine.Engine, "DELETE", "/api/v1/resumes/res-1", nil)
	require.Equal(t, 200, w.Result().StatusCode())

	_, exists := env.store.records["res-1"]
	assert.False(t, exists)
	assert.NotContains(t, env.dedup.md5ToID, "abc123")
	assert.Contains(t, env.objects.deleted, "resume/res-1/original.pdf")
}

// TestHandleDownloadURL 验证预签名下载链接
func TestHandleDownloadURL(t *testing.T) {
	env := newTestEnv(handlerTestConfig())
	env.store.records["res-1"] = &models.ResumeRecord{
		ResumeID:    "res-1",
		FilePathOSS: "resume/res-1/original.pdf",
	}

	w := ut.PerformRequest(env.engine.Engine, "GET", "/api/v1/resumes/res-1/download", nil)
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())

	var body struct {
		URL       string `json:"url"`
		ExpiresIn int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Contains(t, body.URL, "resume/res-1/original.pdf")
	assert.Greater(t, body.ExpiresIn, int64(0))
}

// TestHandleReExtract 验证终态记录重置后重新提取
func TestHandleReExtract(t *testing.T) {
	env := newTestEnv(handlerTestConfig())
	env.store.records["res-1"] = &models.ResumeRecord{
		ResumeID: "res-1",
		Status:   constants.StatusFailed,
	}

	w := ut.PerformRequest(env.engine.Engine, "POST", "/api/v1/resumes/res-1/extract", nil)
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())

	var body struct {
		Resume *models.ResumeRecord `json:"resume"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, constants.StatusCompleted, body.Resume.Status)
	assert.Equal(t, 1, env.extractor.calls)
}

// TestHandleListResumes 验证列表分页字段
func TestHandleListResumes(t *testing.T) {
	env := newTestEnv(handlerTestConfig())
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("res-%d", i)
		env.store.records[id] = &models.ResumeRecord{ResumeID: id, CallerID: "caller-1"}
	}

	w := ut.PerformRequest(env.engine.Engine, "GET", "/api/v1/resumes?size=2", nil,
		ut.Header{Key: "X-Caller-ID", Value: "caller-1"})
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode())

	var body struct {
		Resumes    []models.ResumeRecord `json:"resumes"`
		Total      int64                 `json:"total"`
		NextCursor int64                 `json:"next_cursor"`
		HasMore    bool                  `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Len(t, body.Resumes, 2)
	assert.Equal(t, int64(3), body.Total)
	assert.True(t, body.HasMore)
}

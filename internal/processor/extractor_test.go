package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/hamdidilekci/pdf-scraper/internal/config"
	"github.com/hamdidilekci/pdf-scraper/internal/constants"
	"github.com/hamdidilekci/pdf-scraper/internal/llm"
	"github.com/hamdidilekci/pdf-scraper/internal/parser"
	"github.com/hamdidilekci/pdf-scraper/internal/storage"
	"github.com/hamdidilekci/pdf-scraper/internal/storage/models"
	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// ----- 测试替身 -----

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

type fakeRasterizer struct {
	images []types.PageImage
	err    error
}

func (f *fakeRasterizer) ExtractPageImages(ctx context.Context, data []byte) ([]types.PageImage, error) {
	return f.images, f.err
}

type fakeGateway struct {
	mu         sync.Mutex
	pdfOutcome *llm.ExtractionOutcome
	pdfErr     error
	pageFn     func(img types.PageImage) (*llm.ExtractionOutcome, error)
	pdfCalls   int
	pageCalls  int
}

func (f *fakeGateway) ExtractFromPDF(ctx context.Context, pdfData []byte, filename string, model string) (*llm.ExtractionOutcome, error) {
	f.mu.Lock()
	f.pdfCalls++
	f.mu.Unlock()
	return f.pdfOutcome, f.pdfErr
}

func (f *fakeGateway) ExtractFromPageImage(ctx context.Context, img types.PageImage, model string) (*llm.ExtractionOutcome, error) {
	f.mu.Lock()
	f.pageCalls++
	f.mu.Unlock()
	return f.pageFn(img)
}

type fakeRepo struct {
	mu       sync.Mutex
	record   *models.ResumeRecord
	attempts []*models.ExtractionAttempt

	completedJSON datatypes.JSON
	failedMessage string
	markCompleted bool
	markFailed    bool
	completeErr   error
}

func (f *fakeRepo) GetResumeByID(ctx context.Context, resumeID string) (*models.ResumeRecord, error) {
	if f.record == nil || f.record.ResumeID != resumeID {
		return nil, nil
	}
	return f.record, nil
}

func (f *fakeRepo) MarkResumeCompleted(ctx context.Context, resumeID string, parsed datatypes.JSON, contentType, strategy string, pageCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.markCompleted = true
	f.completedJSON = parsed
	return nil
}

func (f *fakeRepo) MarkResumeFailed(ctx context.Context, resumeID string, failureMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markFailed = true
	f.failedMessage = failureMessage
	return nil
}

func (f *fakeRepo) CreateAttempt(ctx context.Context, attempt *models.ExtractionAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt.AttemptID = uint64(len(f.attempts) + 1)
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeRepo) MarkAttemptCompleted(ctx context.Context, attemptID uint64, update models.AttemptUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.AttemptID == attemptID {
			a.Status = constants.StatusCompleted
			f.applyUpdate(a, update)
		}
	}
	return nil
}

func (f *fakeRepo) MarkAttemptFailed(ctx context.Context, attemptID uint64, errorMessage string, update models.AttemptUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.AttemptID == attemptID {
			a.Status = constants.StatusFailed
			a.ErrorMessage = errorMessage
			f.applyUpdate(a, update)
		}
	}
	return nil
}

func (f *fakeRepo) applyUpdate(a *models.ExtractionAttempt, update models.AttemptUpdate) {
	a.RawResponse = update.RawResponse
	a.Remediated = update.Remediated
	a.PagesProcessed = update.PagesProcessed
	a.PromptTokens = update.PromptTokens
	a.ResponseTokens = update.ResponseTokens
	a.DurationMS = update.DurationMS
}

type fakeFetcher struct {
	data []byte
	err  error
}

func (f *fakeFetcher) GetResumePDF(ctx context.Context, objectKey string) ([]byte, error) {
	return f.data, f.err
}

// ----- 辅助构造 -----

func intPtr(n int) *int {
	return &n
}

func testDoc(name string) *types.ResumeDocument {
	return &types.ResumeDocument{
		Profile:         types.Profile{Name: name, Surname: "Doe", Email: "jane@example.com"},
		WorkExperiences: []types.WorkExperience{},
		Educations:      []types.Education{},
		Skills:          []string{"Go"},
		Licenses:        []types.License{},
		Languages:       []types.Language{},
		Achievements:    []types.Achievement{},
		Publications:    []types.Publication{},
		Honors:          []types.Honor{},
	}
}

func pendingRecord() *models.ResumeRecord {
	return &models.ResumeRecord{
		ResumeID:         "res-1",
		OriginalFilename: "cv.pdf",
		FilePathOSS:      "resume/res-1/original.pdf",
		Status:           constants.StatusPending,
	}
}

func testExtractorConfig() *config.Config {
	return &config.Config{
		OpenAI: config.OpenAIConfig{Model: "gpt-4o-mini", VisionModel: "gpt-4o"},
		Extraction: config.ExtractionConfig{
			Timeout:         "30s",
			PageConcurrency: 2,
		},
	}
}

func newTestExtractor(t *testing.T, comp Components) *ResumeExtractor {
	t.Helper()
	e, err := NewResumeExtractor(comp, testExtractorConfig())
	require.NoError(t, err)
	return e
}

// ----- 用例 -----

// TestExtractResumeTextHappyPath 验证文本路径成功时记录与尝试历史双写
func TestExtractResumeTextHappyPath(t *testing.T) {
	repo := &fakeRepo{record: pendingRecord()}
	gw := &fakeGateway{pdfOutcome: &llm.ExtractionOutcome{
		Document:       testDoc("Jane"),
		RawResponse:    `{"output_text":"..."}`,
		PromptTokens:   intPtr(1200),
		ResponseTokens: intPtr(340),
	}}

	e := newTestExtractor(t, Components{
		Analyzer:   &fakeAnalyzer{analysis: &types.PDFAnalysis{PageCount: 2, ContentType: constants.ContentTypeTextBased, Strategy: constants.StrategyText}},
		Rasterizer: &fakeRasterizer{},
		Gateway:    gw,
		Repo:       repo,
		Fetcher:    &fakeFetcher{data: []byte("%PDF-1.7")},
	})

	err := e.ExtractResume(context.Background(), "res-1")
	require.NoError(t, err)

	assert.True(t, repo.markCompleted)
	assert.False(t, repo.markFailed)
	assert.Equal(t, 1, gw.pdfCalls)

	var doc types.ResumeDocument
	require.NoError(t, json.Unmarshal(repo.completedJSON, &doc))
	assert.Equal(t, "Jane", doc.Profile.Name)

	require.Len(t, repo.attempts, 1)
	attempt := repo.attempts[0]
	assert.Equal(t, constants.StatusCompleted, attempt.Status)
	assert.Equal(t, constants.StrategyText, attempt.Strategy)
	assert.Equal(t, "gpt-4o-mini", attempt.Model)
	// 诊断字段随尝试一并落库
	assert.Equal(t, 2, attempt.PagesProcessed)
	require.NotNil(t, attempt.PromptTokens)
	assert.Equal(t, 1200, *attempt.PromptTokens)
	require.NotNil(t, attempt.ResponseTokens)
	assert.Equal(t, 340, *attempt.ResponseTokens)
	assert.GreaterOrEqual(t, attempt.DurationMS, int64(0))
}

// TestExtractResumeGatewayFailure 验证提取失败时记录FAILED且尝试历史保留技术细节
func TestExtractResumeGatewayFailure(t *testing.T) {
	repo := &fakeRepo{record: pendingRecord()}
	gw := &fakeGateway{
		pdfOutcome: &llm.ExtractionOutcome{RawResponse: "I cannot produce JSON", Remediated: true},
		pdfErr:     fmt.Errorf("补救重试后响应仍不是合法JSON"),
	}

	e := newTestExtractor(t, Components{
		Analyzer:   &fakeAnalyzer{analysis: &types.PDFAnalysis{PageCount: 1, ContentType: constants.ContentTypeTextBased, Strategy: constants.StrategyText}},
		Rasterizer: &fakeRasterizer{},
		Gateway:    gw,
		Repo:       repo,
		Fetcher:    &fakeFetcher{data: []byte("%PDF-1.7")},
	})

	err := e.ExtractResume(context.Background(), "res-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)

	assert.True(t, repo.markFailed)
	assert.False(t, repo.markCompleted)
	// 调用方看到的是友好消息, 不是技术细节
	assert.Equal(t, constants.MsgExtractionIncomplete, repo.failedMessage)

	require.Len(t, repo.attempts, 1)
	assert.Equal(t, constants.StatusFailed, repo.attempts[0].Status)
	assert.Contains(t, repo.attempts[0].ErrorMessage, "JSON")
	// 失败的尝试仍保留原始响应与补救标记
	assert.Equal(t, "I cannot produce JSON", repo.attempts[0].RawResponse)
	assert.True(t, repo.attempts[0].Remediated)
}

// TestExtractResumeSchemaFailureIsValidationError 验证schema校验失败映射为校验错误而非提取错误
func TestExtractResumeSchemaFailureIsValidationError(t *testing.T) {
	repo := &fakeRepo{record: pendingRecord()}
	gw := &fakeGateway{
		pdfOutcome: &llm.ExtractionOutcome{RawResponse: `{"output_text":"{\"profile\":{}}"}`},
		pdfErr:     fmt.Errorf("%w: missing properties: 'email'", parser.ErrSchemaViolation),
	}

	e := newTestExtractor(t, Components{
		Analyzer:   &fakeAnalyzer{analysis: &types.PDFAnalysis{PageCount: 1, ContentType: constants.ContentTypeTextBased, Strategy: constants.StrategyText}},
		Rasterizer: &fakeRasterizer{},
		Gateway:    gw,
		Repo:       repo,
		Fetcher:    &fakeFetcher{data: []byte("%PDF-1.7")},
	})

	err := e.ExtractResume(context.Background(), "res-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.NotErrorIs(t, err, ErrExtractionFailed)

	require.Len(t, repo.attempts, 1)
	assert.Equal(t, constants.StatusFailed, repo.attempts[0].Status)
	assert.NotEmpty(t, repo.attempts[0].RawResponse)
}

// TestExtractResumeDownloadFailure 验证PDF下载失败直接失败并给出可读原因
func TestExtractResumeDownloadFailure(t *testing.T) {
	repo := &fakeRepo{record: pendingRecord()}

	e := newTestExtractor(t, Components{
		Analyzer:   &fakeAnalyzer{},
		Rasterizer: &fakeRasterizer{},
		Gateway:    &fakeGateway{},
		Repo:       repo,
		Fetcher:    &fakeFetcher{err: fmt.Errorf("对象不存在")},
	})

	err := e.ExtractResume(context.Background(), "res-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResumeDownloadFail)
	assert.Equal(t, constants.MsgUnreadablePDF, repo.failedMessage)
	// 下载失败发生在创建尝试之前
	assert.Empty(t, repo.attempts)
}

// TestExtractResumeImageStrategy 验证扫描件路径的分页并发提取与合并
func TestExtractResumeImageStrategy(t *testing.T) {
	repo := &fakeRepo{record: pendingRecord()}
	gw := &fakeGateway{
		pageFn: func(img types.PageImage) (*llm.ExtractionOutcome, error) {
			doc := testDoc("")
			if img.PageNumber == 1 {
				doc.Profile.Name = "Jane"
				doc.Skills = []string{"Go"}
			} else {
				doc.Skills = []string{"Kubernetes", "go"}
			}
			return &llm.ExtractionOutcome{Document: doc, RawResponse: fmt.Sprintf("raw-%d", img.PageNumber)}, nil
		},
	}

	e := newTestExtractor(t, Components{
		Analyzer: &fakeAnalyzer{analysis: &types.PDFAnalysis{PageCount: 2, ContentType: constants.ContentTypeScanned, Strategy: constants.StrategyImages}},
		Rasterizer: &fakeRasterizer{images: []types.PageImage{
			{PageNumber: 1, Format: "jpeg", Data: []byte{1}},
			{PageNumber: 2, Format: "jpeg", Data: []byte{2}},
		}},
		Gateway: gw,
		Repo:    repo,
		Fetcher: &fakeFetcher{data: []byte("%PDF-1.7")},
	})

	err := e.ExtractResume(context.Background(), "res-1")
	require.NoError(t, err)
	assert.Equal(t, 2, gw.pageCalls)
	assert.True(t, repo.markCompleted)

	var doc types.ResumeDocument
	require.NoError(t, json.Unmarshal(repo.completedJSON, &doc))
	assert.Equal(t, "Jane", doc.Profile.Name)
	// 技能跨页合并且不区分大小写去重
	assert.Equal(t, []string{"Go", "Kubernetes"}, doc.Skills)

	require.Len(t, repo.attempts, 1)
	assert.Equal(t, "gpt-4o", repo.attempts[0].Model)
	assert.Equal(t, 2, repo.attempts[0].PagesProcessed)
}

// TestExtractResumeImagePartialFailure 验证单页失败不影响其余页
func TestExtractResumeImagePartialFailure(t *testing.T) {
	repo := &fakeRepo{record: pendingRecord()}
	gw := &fakeGateway{
		pageFn: func(img types.PageImage) (*llm.ExtractionOutcome, error) {
			if img.PageNumber == 2 {
				return nil, fmt.Errorf("模型超时")
			}
			return &llm.ExtractionOutcome{Document: testDoc("Jane"), RawResponse: "raw-1"}, nil
		},
	}

	e := newTestExtractor(t, Components{
		Analyzer: &fakeAnalyzer{analysis: &types.PDFAnalysis{PageCount: 2, ContentType: constants.ContentTypeScanned, Strategy: constants.StrategyImages}},
		Rasterizer: &fakeRasterizer{images: []types.PageImage{
			{PageNumber: 1, Format: "jpeg", Data: []byte{1}},
			{PageNumber: 2, Format: "jpeg", Data: []byte{2}},
		}},
		Gateway: gw,
		Repo:    repo,
		Fetcher: &fakeFetcher{data: []byte("%PDF-1.7")},
	})

	err := e.ExtractResume(context.Background(), "res-1")
	require.NoError(t, err)
	assert.True(t, repo.markCompleted)
}

// TestExtractResumeImageAllPagesFail 验证所有页面失败时整体失败
func TestExtractResumeImageAllPagesFail(t *testing.T) {
	repo := &fakeRepo{record: pendingRecord()}
	gw := &fakeGateway{
		pageFn: func(img types.PageImage) (*llm.ExtractionOutcome, error) {
			return &llm.ExtractionOutcome{RawResponse: "raw-bad"}, fmt.Errorf("页面响应无法解析")
		},
	}

	e := newTestExtractor(t, Components{
		Analyzer: &fakeAnalyzer{analysis: &types.PDFAnalysis{PageCount: 1, ContentType: constants.ContentTypeScanned, Strategy: constants.StrategyImages}},
		Rasterizer: &fakeRasterizer{images: []types.PageImage{
			{PageNumber: 1, Format: "jpeg", Data: []byte{1}},
		}},
		Gateway: gw,
		Repo:    repo,
		Fetcher: &fakeFetcher{data: []byte("%PDF-1.7")},
	})

	err := e.ExtractResume(context.Background(), "res-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPagesExtracted)
	assert.True(t, repo.markFailed)
	assert.Equal(t, constants.MsgExtractionIncomplete, repo.failedMessage)

	// 失败页带回的原始响应仍要进尝试记录
	require.Len(t, repo.attempts, 1)
	assert.Equal(t, "raw-bad", repo.attempts[0].RawResponse)
}

// TestExtractResumeNotPending 验证非PENDING记录拒绝提取
func TestExtractResumeNotPending(t *testing.T) {
	record := pendingRecord()
	record.Status = constants.StatusCompleted
	repo := &fakeRepo{record: record}

	e := newTestExtractor(t, Components{
		Analyzer:   &fakeAnalyzer{},
		Rasterizer: &fakeRasterizer{},
		Gateway:    &fakeGateway{},
		Repo:       repo,
		Fetcher:    &fakeFetcher{},
	})

	err := e.ExtractResume(context.Background(), "res-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResumeNotExtractble)
}

// TestExtractResumeNotFound 验证不存在的记录返回明确错误
func TestExtractResumeNotFound(t *testing.T) {
	e := newTestExtractor(t, Components{
		Analyzer:   &fakeAnalyzer{},
		Rasterizer: &fakeRasterizer{},
		Gateway:    &fakeGateway{},
		Repo:       &fakeRepo{},
		Fetcher:    &fakeFetcher{},
	})

	err := e.ExtractResume(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResumeNotFound)
}

// TestExtractResumeStatusConflictTolerated 验证并发迁移导致的状态冲突不报错
func TestExtractResumeStatusConflictTolerated(t *testing.T) {
	repo := &fakeRepo{record: pendingRecord(), completeErr: storage.ErrStatusConflict}
	gw := &fakeGateway{pdfOutcome: &llm.ExtractionOutcome{Document: testDoc("Jane")}}

	e := newTestExtractor(t, Components{
		Analyzer:   &fakeAnalyzer{analysis: &types.PDFAnalysis{PageCount: 1, ContentType: constants.ContentTypeTextBased, Strategy: constants.StrategyText}},
		Rasterizer: &fakeRasterizer{},
		Gateway:    gw,
		Repo:       repo,
		Fetcher:    &fakeFetcher{data: []byte("%PDF-1.7")},
	})

	err := e.ExtractResume(context.Background(), "res-1")
	assert.NoError(t, err)
}

// TestNewResumeExtractorValidation 验证缺失组件时拒绝创建
func TestNewResumeExtractorValidation(t *testing.T) {
	_, err := NewResumeExtractor(Components{}, testExtractorConfig())
	assert.Error(t, err)

	_, err = NewResumeExtractor(Components{
		Analyzer:   &fakeAnalyzer{},
		Rasterizer: &fakeRasterizer{},
		Gateway:    &fakeGateway{},
		Repo:       &fakeRepo{},
		Fetcher:    &fakeFetcher{},
	}, nil)
	assert.Error(t, err)
}

package types

// EmploymentType 雇佣类型枚举
type EmploymentType string

const (
	EmploymentFullTime   EmploymentType = "FULL_TIME"
	EmploymentPartTime   EmploymentType = "PART_TIME"
	EmploymentContract   EmploymentType = "CONTRACT"
	EmploymentInternship EmploymentType = "INTERNSHIP"
)

// LocationType 工作地点类型枚举
type LocationType string

const (
	LocationOnsite LocationType = "ONSITE"
	LocationRemote LocationType = "REMOTE"
	LocationHybrid LocationType = "HYBRID"
)

// Degree 学位层级枚举
type Degree string

const (
	DegreeHighSchool Degree = "HIGH_SCHOOL"
	DegreeAssociate  Degree = "ASSOCIATE"
	DegreeBachelor   Degree = "BACHELOR"
	DegreeMaster     Degree = "MASTER"
	DegreeDoctorate  Degree = "DOCTORATE"
)

// LanguageLevel 语言水平枚举
type LanguageLevel string

const (
	LevelBeginner     LanguageLevel = "BEGINNER"
	LevelIntermediate LanguageLevel = "INTERMEDIATE"
	LevelAdvanced     LanguageLevel = "ADVANCED"
	LevelNative       LanguageLevel = "NATIVE"
)

// Profile 候选人基本信息
type Profile struct {
	Name                string `json:"name"`
	Surname             string `json:"surname"`
	Email               string `json:"email"`
	Headline            string `json:"headline"`
	ProfessionalSummary string `json:"professionalSummary"`
	LinkedIn            string `json:"linkedIn"`
	Website             string `json:"website"`
	Country             string `json:"country"`
	City                string `json:"city"`
	Relocation          bool   `json:"relocation"`
	Remote              bool   `json:"remote"`
}

// WorkExperience 工作经历条目
// 月份取值 1-12，年份取值 1900-2100，未知时为 null
type WorkExperience struct {
	JobTitle       string         `json:"jobTitle"`
	EmploymentType EmploymentType `json:"employmentType"`
	LocationType   LocationType   `json:"locationType"`
	Company        string         `json:"company"`
	StartMonth     *int           `json:"startMonth"`
	StartYear      *int           `json:"startYear"`
	EndMonth       *int           `json:"endMonth"`
	EndYear        *int           `json:"endYear"`
	Current        bool           `json:"current"`
	Description    string         `json:"description"`
}

// Education 教育经历条目
type Education struct {
	School      string `json:"school"`
	Degree      Degree `json:"degree"`
	Major       string `json:"major"`
	StartYear   *int   `json:"startYear"`
	EndYear     *int   `json:"endYear"`
	Current     bool   `json:"current"`
	Description string `json:"description"`
}

// License 证书/执照条目
type License struct {
	Name        string `json:"name"`
	Issuer      string `json:"issuer"`
	IssueYear   *int   `json:"issueYear"`
	Description string `json:"description"`
}

// Language 语言能力条目
type Language struct {
	Language string        `json:"language"`
	Level    LanguageLevel `json:"level"`
}

// Achievement 成就条目
type Achievement struct {
	Title        string `json:"title"`
	Organization string `json:"organization"`
	AchieveDate  string `json:"achieveDate"`
	Description  string `json:"description"`
}

// Publication 出版物条目
type Publication struct {
	Title           string `json:"title"`
	Publisher       string `json:"publisher"`
	PublicationDate string `json:"publicationDate"`
	PublicationURL  string `json:"publicationUrl"`
	Description     string `json:"description"`
}

// Honor 荣誉条目
type Honor struct {
	Title       string `json:"title"`
	Issuer      string `json:"issuer"`
	IssueMonth  *int   `json:"issueMonth"`
	IssueYear   *int   `json:"issueYear"`
	Description string `json:"description"`
}

// ResumeDocument 模型提取产出的结构化简历文档
type ResumeDocument struct {
	Profile         Profile          `json:"profile"`
	WorkExperiences []WorkExperience `json:"workExperiences"`
	Educations      []Education      `json:"educations"`
	Skills          []string         `json:"skills"`
	Licenses        []License        `json:"licenses"`
	Languages       []Language       `json:"languages"`
	Achievements    []Achievement    `json:"achievements"`
	Publications    []Publication    `json:"publications"`
	Honors          []Honor          `json:"honors"`
}

// PDFAnalysis PDF 内容形态分析结果
type PDFAnalysis struct {
	ContentType  string  `json:"content_type"`  // TEXT_BASED / IMAGE_BASED / SCANNED / MIXED
	TextRatio    float64 `json:"text_ratio"`    // 文本类标志占比, 0到1
	ImageRatio   float64 `json:"image_ratio"`   // 图像类标志占比, 0到1
	PageCount    int     `json:"page_count"`    // 由前缀中的页对象声明估算, 至少为1
	HasText      bool    `json:"has_text"`      // 是否出现文本渲染标志
	HasImages    bool    `json:"has_images"`    // 是否出现内嵌图像标志
	Strategy     string  `json:"strategy"`      // 推荐的提取策略
	ScannedBytes int     `json:"scanned_bytes"` // 实际参与分类的前缀字节数
}

// PageImage 扫描件路径下从单页提取出的位图
type PageImage struct {
	PageNumber int    // 从1开始的页码
	Format     string // png 或 jpeg
	Data       []byte
}

// PaginatedResumeResponse 分页简历列表响应
type PaginatedResumeResponse struct {
	Cursor     int64           `json:"cursor"`
	NextCursor int64           `json:"next_cursor"`
	Size       int64           `json:"size"`
	TotalCount int64           `json:"total_count"`
	Resumes    []ResumeSummary `json:"resumes"`
}

// ResumeSummary 列表场景使用的简历摘要视图
type ResumeSummary struct {
	ResumeID   string `json:"resume_id"`
	FileName   string `json:"file_name"`
	Status     string `json:"status"`
	Strategy   string `json:"strategy,omitempty"`
	Candidate  string `json:"candidate,omitempty"`
	Headline   string `json:"headline,omitempty"`
	UploadedAt int64  `json:"uploaded_at"`
}

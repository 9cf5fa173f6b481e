package parser

import (
	"strings"

	"github.com/hamdidilekci/pdf-scraper/internal/types"
)

// 各枚举字段的默认值，模型给出无法识别的取值时回落到默认
const (
	defaultEmploymentType = types.EmploymentFullTime
	defaultLocationType   = types.LocationOnsite
	defaultDegree         = types.DegreeBachelor
	defaultLanguageLevel  = types.LevelIntermediate
)

var validEmploymentTypes = map[types.EmploymentType]bool{
	types.EmploymentFullTime:   true,
	types.EmploymentPartTime:   true,
	types.EmploymentContract:   true,
	types.EmploymentInternship: true,
}

var validLocationTypes = map[types.LocationType]bool{
	types.LocationOnsite: true,
	types.LocationRemote: true,
	types.LocationHybrid: true,
}

var validDegrees = map[types.Degree]bool{
	types.DegreeHighSchool: true,
	types.DegreeAssociate:  true,
	types.DegreeBachelor:   true,
	types.DegreeMaster:     true,
	types.DegreeDoctorate:  true,
}

var validLanguageLevels = map[types.LanguageLevel]bool{
	types.LevelBeginner:     true,
	types.LevelIntermediate: true,
	types.LevelAdvanced:     true,
	types.LevelNative:       true,
}

// coerceEnum 将模型输出的枚举值归一化: 大写、空格和连字符转下划线
func coerceEnum(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// NormalizeResume 对模型产出的简历文档做原地归一化:
// 裁剪文本字段空白、归一化枚举取值、将nil切片替换为空切片
func NormalizeResume(doc *types.ResumeDocument) {
	if doc == nil {
		return
	}

	// profile文本字段去除首尾空白
	p := &doc.Profile
	p.Name = strings.TrimSpace(p.Name)
	p.Surname = strings.TrimSpace(p.Surname)
	p.Email = strings.TrimSpace(p.Email)
	p.Headline = strings.TrimSpace(p.Headline)
	p.ProfessionalSummary = strings.TrimSpace(p.ProfessionalSummary)
	p.LinkedIn = strings.TrimSpace(p.LinkedIn)
	p.Website = strings.TrimSpace(p.Website)
	p.Country = strings.TrimSpace(p.Country)
	p.City = strings.TrimSpace(p.City)

	for i := range doc.WorkExperiences {
		we := &doc.WorkExperiences[i]
		we.JobTitle = strings.TrimSpace(we.JobTitle)
		we.Company = strings.TrimSpace(we.Company)

		et := types.EmploymentType(coerceEnum(string(we.EmploymentType)))
		if !validEmploymentTypes[et] {
			et = defaultEmploymentType
		}
		we.EmploymentType = et

		lt := types.LocationType(coerceEnum(string(we.LocationType)))
		if !validLocationTypes[lt] {
			lt = defaultLocationType
		}
		we.LocationType = lt

		we.StartMonth = clampRange(we.StartMonth, 1, 12)
		we.EndMonth = clampRange(we.EndMonth, 1, 12)
		we.StartYear = clampRange(we.StartYear, 1900, 2100)
		we.EndYear = clampRange(we.EndYear, 1900, 2100)
	}

	for i := range doc.Educations {
		edu := &doc.Educations[i]
		edu.School = strings.TrimSpace(edu.School)
		edu.Major = strings.TrimSpace(edu.Major)

		deg := types.Degree(coerceEnum(string(edu.Degree)))
		if !validDegrees[deg] {
			deg = defaultDegree
		}
		edu.Degree = deg

		edu.StartYear = clampRange(edu.StartYear, 1900, 2100)
		edu.EndYear = clampRange(edu.EndYear, 1900, 2100)
	}

	for i := range doc.Skills {
		doc.Skills[i] = strings.TrimSpace(doc.Skills[i])
	}

	for i := range doc.Licenses {
		lic := &doc.Licenses[i]
		lic.Name = strings.TrimSpace(lic.Name)
		lic.Issuer = strings.TrimSpace(lic.Issuer)
		lic.IssueYear = clampRange(lic.IssueYear, 1900, 2100)
	}

	for i := range doc.Languages {
		lang := &doc.Languages[i]
		lang.Language = strings.TrimSpace(lang.Language)

		level := types.LanguageLevel(coerceEnum(string(lang.Level)))
		if !validLanguageLevels[level] {
			level = defaultLanguageLevel
		}
		lang.Level = level
	}

	for i := range doc.Honors {
		h := &doc.Honors[i]
		h.Title = strings.TrimSpace(h.Title)
		h.IssueMonth = clampRange(h.IssueMonth, 1, 12)
		h.IssueYear = clampRange(h.IssueYear, 1900, 2100)
	}

	// schema要求所有列表字段都是数组，nil切片序列化后是null
	if doc.WorkExperiences == nil {
		doc.WorkExperiences = []types.WorkExperience{}
	}
	if doc.Educations == nil {
		doc.Educations = []types.Education{}
	}
	if doc.Skills == nil {
		doc.Skills = []string{}
	}
	if doc.Licenses == nil {
		doc.Licenses = []types.License{}
	}
	if doc.Languages == nil {
		doc.Languages = []types.Language{}
	}
	if doc.Achievements == nil {
		doc.Achievements = []types.Achievement{}
	}
	if doc.Publications == nil {
		doc.Publications = []types.Publication{}
	}
	if doc.Honors == nil {
		doc.Honors = []types.Honor{}
	}
}

// clampRange 超出范围的取值视为未知，置为null
func clampRange(v *int, min, max int) *int {
	if v == nil {
		return nil
	}
	if *v < min || *v > max {
		return nil
	}
	return v
}

package parser

import (
	"testing"

	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int {
	return &i
}

// TestCoerceEnum 验证枚举归一化: 大写、空格/连字符转下划线
func TestCoerceEnum(t *testing.T) {
	assert.Equal(t, "FULL_TIME", coerceEnum("full time"))
	assert.Equal(t, "FULL_TIME", coerceEnum("Full-Time"))
	assert.Equal(t, "PART_TIME", coerceEnum("  part_time "))
	assert.Equal(t, "ONSITE", coerceEnum("onsite"))
	assert.Equal(t, "", coerceEnum("  "))
}

// TestNormalizeResumeEnumDefaults 验证无法识别的枚举值回落到默认值
func TestNormalizeResumeEnumDefaults(t *testing.T) {
	doc := &types.ResumeDocument{
		WorkExperiences: []types.WorkExperience{
			{JobTitle: "Engineer", Company: "Acme", EmploymentType: "gig work", LocationType: "moon"},
		},
		Educations: []types.Education{
			{School: "MIT", Degree: "phd candidate"},
		},
		Languages: []types.Language{
			{Language: "English", Level: "so-so"},
		},
	}

	NormalizeResume(doc)

	assert.Equal(t, types.EmploymentFullTime, doc.WorkExperiences[0].EmploymentType)
	assert.Equal(t, types.LocationOnsite, doc.WorkExperiences[0].LocationType)
	assert.Equal(t, types.DegreeBachelor, doc.Educations[0].Degree)
	assert.Equal(t, types.LevelIntermediate, doc.Languages[0].Level)
}

// TestNormalizeResumeCoercesValidEnums 验证合法但格式不规范的枚举值被接受
func TestNormalizeResumeCoercesValidEnums(t *testing.T) {
	doc := &types.ResumeDocument{
		WorkExperiences: []types.WorkExperience{
			{JobTitle: "Dev", Company: "Acme", EmploymentType: "part time", LocationType: "remote"},
		},
		Educations: []types.Education{
			{School: "MIT", Degree: "master"},
		},
		Languages: []types.Language{
			{Language: "German", Level: "native"},
		},
	}

	NormalizeResume(doc)

	assert.Equal(t, types.EmploymentPartTime, doc.WorkExperiences[0].EmploymentType)
	assert.Equal(t, types.LocationRemote, doc.WorkExperiences[0].LocationType)
	assert.Equal(t, types.DegreeMaster, doc.Educations[0].Degree)
	assert.Equal(t, types.LevelNative, doc.Languages[0].Level)
}

// TestNormalizeResumeTrimsProfile 验证profile文本字段的空白被裁剪
func TestNormalizeResumeTrimsProfile(t *testing.T) {
	doc := &types.ResumeDocument{
		Profile: types.Profile{
			Name:    "  Jane ",
			Surname: " Doe  ",
			Email:   " jane@example.com ",
			City:    "\tBerlin\n",
		},
	}

	NormalizeResume(doc)

	assert.Equal(t, "Jane", doc.Profile.Name)
	assert.Equal(t, "Doe", doc.Profile.Surname)
	assert.Equal(t, "jane@example.com", doc.Profile.Email)
	assert.Equal(t, "Berlin", doc.Profile.City)
}

// TestNormalizeResumeClampsRanges 验证越界的月份/年份被置为null
func TestNormalizeResumeClampsRanges(t *testing.T) {
	doc := &types.ResumeDocument{
		WorkExperiences: []types.WorkExperience{
			{
				JobTitle:   "Dev",
				Company:    "Acme",
				StartMonth: intPtr(13),
				StartYear:  intPtr(2020),
				EndMonth:   intPtr(0),
				EndYear:    intPtr(1800),
			},
		},
	}

	NormalizeResume(doc)

	we := doc.WorkExperiences[0]
	assert.Nil(t, we.StartMonth)
	require.NotNil(t, we.StartYear)
	assert.Equal(t, 2020, *we.StartYear)
	assert.Nil(t, we.EndMonth)
	assert.Nil(t, we.EndYear)
}

// TestNormalizeResumeFillsNilSlices 验证nil切片被替换为空切片
func TestNormalizeResumeFillsNilSlices(t *testing.T) {
	doc := &types.ResumeDocument{}

	NormalizeResume(doc)

	assert.NotNil(t, doc.WorkExperiences)
	assert.NotNil(t, doc.Educations)
	assert.NotNil(t, doc.Skills)
	assert.NotNil(t, doc.Licenses)
	assert.NotNil(t, doc.Languages)
	assert.NotNil(t, doc.Achievements)
	assert.NotNil(t, doc.Publications)
	assert.NotNil(t, doc.Honors)
}

// TestNormalizeResumeNil 验证nil输入不会panic
func TestNormalizeResumeNil(t *testing.T) {
	assert.NotPanics(t, func() {
		NormalizeResume(nil)
	})
}

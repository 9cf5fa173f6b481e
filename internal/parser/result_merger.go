package parser

import (
	"fmt"
	"strings"

	"github.com/hamdidilekci/pdf-scraper/internal/types"
)

// MergeResumeFragments 合并多页分别提取得到的简历片段。
// profile标量字段按页序取第一个非空值，列表字段拼接后按语义键去重，
// 重复条目中保留信息量更大的那条。单片段输入直接归一化返回。
func MergeResumeFragments(fragments []*types.ResumeDocument) *types.ResumeDocument {
	if len(fragments) == 1 && fragments[0] != nil {
		NormalizeResume(fragments[0])
		return fragments[0]
	}

	merged := &types.ResumeDocument{
		WorkExperiences: []types.WorkExperience{},
		Educations:      []types.Education{},
		Skills:          []string{},
		Licenses:        []types.License{},
		Languages:       []types.Language{},
		Achievements:    []types.Achievement{},
		Publications:    []types.Publication{},
		Honors:          []types.Honor{},
	}

	// relocation/remote 取第一个包含profile内容的片段的值
	boolsTaken := false
	workIdx := make(map[string]int)
	eduIdx := make(map[string]int)
	langIdx := make(map[string]int)
	seenSkills := make(map[string]bool)
	seenLicenses := make(map[string]bool)
	seenAchievements := make(map[string]bool)
	seenPublications := make(map[string]bool)
	seenHonors := make(map[string]bool)

	for _, frag := range fragments {
		if frag == nil {
			continue
		}

		mergeProfile(&merged.Profile, &frag.Profile)
		if !boolsTaken && profileHasContent(&frag.Profile) {
			merged.Profile.Relocation = frag.Profile.Relocation
			merged.Profile.Remote = frag.Profile.Remote
			boolsTaken = true
		}

		for _, we := range frag.WorkExperiences {
			key := joinKey(we.Company, we.JobTitle, intKey(we.StartYear), intKey(we.StartMonth))
			if i, ok := workIdx[key]; ok {
				// 重复条目保留带描述的那条
				if merged.WorkExperiences[i].Description == "" && we.Description != "" {
					merged.WorkExperiences[i] = we
				}
				continue
			}
			workIdx[key] = len(merged.WorkExperiences)
			merged.WorkExperiences = append(merged.WorkExperiences, we)
		}

		for _, edu := range frag.Educations {
			key := joinKey(edu.School, string(edu.Degree), intKey(edu.StartYear))
			if i, ok := eduIdx[key]; ok {
				if len(edu.Description) > len(merged.Educations[i].Description) {
					merged.Educations[i] = edu
				}
				continue
			}
			eduIdx[key] = len(merged.Educations)
			merged.Educations = append(merged.Educations, edu)
		}

		for _, skill := range frag.Skills {
			key := strings.ToLower(strings.TrimSpace(skill))
			if key == "" || seenSkills[key] {
				continue
			}
			seenSkills[key] = true
			merged.Skills = append(merged.Skills, strings.TrimSpace(skill))
		}

		for _, lang := range frag.Languages {
			key := strings.ToLower(strings.TrimSpace(lang.Language))
			if i, ok := langIdx[key]; ok {
				if merged.Languages[i].Level == "" && lang.Level != "" {
					merged.Languages[i] = lang
				}
				continue
			}
			langIdx[key] = len(merged.Languages)
			merged.Languages = append(merged.Languages, lang)
		}

		for _, lic := range frag.Licenses {
			key := strings.ToLower(strings.TrimSpace(lic.Name))
			if seenLicenses[key] {
				continue
			}
			seenLicenses[key] = true
			merged.Licenses = append(merged.Licenses, lic)
		}

		for _, ach := range frag.Achievements {
			key := strings.ToLower(strings.TrimSpace(ach.Title))
			if seenAchievements[key] {
				continue
			}
			seenAchievements[key] = true
			merged.Achievements = append(merged.Achievements, ach)
		}

		for _, pub := range frag.Publications {
			key := strings.ToLower(strings.TrimSpace(pub.Title))
			if seenPublications[key] {
				continue
			}
			seenPublications[key] = true
			merged.Publications = append(merged.Publications, pub)
		}

		for _, hon := range frag.Honors {
			key := strings.ToLower(strings.TrimSpace(hon.Title))
			if seenHonors[key] {
				continue
			}
			seenHonors[key] = true
			merged.Honors = append(merged.Honors, hon)
		}
	}

	return merged
}

// joinKey 拼接语义去重键, 各分量小写去空白
func joinKey(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "|")
}

// intKey 可空整数的键表示, 未知值不与具体年份混同
func intKey(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

// mergeProfile 目标字段为空时采用来源字段的值
func mergeProfile(dst, src *types.Profile) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Surname == "" {
		dst.Surname = src.Surname
	}
	if dst.Email == "" {
		dst.Email = src.Email
	}
	if dst.Headline == "" {
		dst.Headline = src.Headline
	}
	if dst.ProfessionalSummary == "" {
		dst.ProfessionalSummary = src.ProfessionalSummary
	}
	if dst.LinkedIn == "" {
		dst.LinkedIn = src.LinkedIn
	}
	if dst.Website == "" {
		dst.Website = src.Website
	}
	if dst.Country == "" {
		dst.Country = src.Country
	}
	if dst.City == "" {
		dst.City = src.City
	}
}

// profileHasContent 判断profile是否包含任何非空文本字段
func profileHasContent(p *types.Profile) bool {
	return p.Name != "" || p.Surname != "" || p.Email != "" ||
		p.Headline != "" || p.ProfessionalSummary != "" ||
		p.Country != "" || p.City != ""
}

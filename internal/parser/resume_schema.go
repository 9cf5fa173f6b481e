package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hamdidilekci/pdf-scraper/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// resumeSchemaJSON 结构化简历文档的JSON Schema
// 月份限定1-12、年份限定1900-2100，未知时允许null
const resumeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["profile", "workExperiences", "educations", "skills", "licenses", "languages", "achievements", "publications", "honors"],
  "properties": {
    "profile": {
      "type": "object",
      "required": ["name", "surname", "email"],
      "properties": {
        "name": {"type": "string"},
        "surname": {"type": "string"},
        "email": {"type": "string", "format": "email"},
        "headline": {"type": "string"},
        "professionalSummary": {"type": "string"},
        "linkedIn": {"type": "string"},
        "website": {"type": "string"},
        "country": {"type": "string"},
        "city": {"type": "string"},
        "relocation": {"type": "boolean"},
        "remote": {"type": "boolean"}
      }
    },
    "workExperiences": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["jobTitle", "company"],
        "properties": {
          "jobTitle": {"type": "string"},
          "employmentType": {
            "enum": ["FULL_TIME", "PART_TIME", "CONTRACT", "INTERNSHIP"]
          },
          "locationType": {
            "enum": ["ONSITE", "REMOTE", "HYBRID"]
          },
          "company": {"type": "string"},
          "startMonth": {"type": ["integer", "null"], "minimum": 1, "maximum": 12},
          "startYear": {"type": ["integer", "null"], "minimum": 1900, "maximum": 2100},
          "endMonth": {"type": ["integer", "null"], "minimum": 1, "maximum": 12},
          "endYear": {"type": ["integer", "null"], "minimum": 1900, "maximum": 2100},
          "current": {"type": "boolean"},
          "description": {"type": "string"}
        }
      }
    },
    "educations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["school"],
        "properties": {
          "school": {"type": "string"},
          "degree": {
            "enum": ["HIGH_SCHOOL", "ASSOCIATE", "BACHELOR", "MASTER", "DOCTORATE"]
          },
          "major": {"type": "string"},
          "startYear": {"type": ["integer", "null"], "minimum": 1900, "maximum": 2100},
          "endYear": {"type": ["integer", "null"], "minimum": 1900, "maximum": 2100},
          "current": {"type": "boolean"},
          "description": {"type": "string"}
        }
      }
    },
    "skills": {
      "type": "array",
      "items": {"type": "string"}
    },
    "licenses": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "issuer": {"type": "string"},
          "issueYear": {"type": ["integer", "null"], "minimum": 1900, "maximum": 2100},
          "description": {"type": "string"}
        }
      }
    },
    "languages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["language"],
        "properties": {
          "language": {"type": "string"},
          "level": {
            "enum": ["BEGINNER", "INTERMEDIATE", "ADVANCED", "NATIVE"]
          }
        }
      }
    },
    "achievements": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string"},
          "organization": {"type": "string"},
          "achieveDate": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    },
    "publications": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string"},
          "publisher": {"type": "string"},
          "publicationDate": {"type": "string"},
          "publicationUrl": {"type": "string"},
          "description": {"type": "string"}
        }
      }
    },
    "honors": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title"],
        "properties": {
          "title": {"type": "string"},
          "issuer": {"type": "string"},
          "issueMonth": {"type": ["integer", "null"], "minimum": 1, "maximum": 12},
          "issueYear": {"type": ["integer", "null"], "minimum": 1900, "maximum": 2100},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

// compiledResumeSchema 编译后的schema，包级别只编译一次
var compiledResumeSchema = mustCompileResumeSchema()

func mustCompileResumeSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("resume.schema.json", strings.NewReader(resumeSchemaJSON)); err != nil {
		panic(fmt.Sprintf("加载简历schema失败: %v", err))
	}
	schema, err := compiler.Compile("resume.schema.json")
	if err != nil {
		panic(fmt.Sprintf("编译简历schema失败: %v", err))
	}
	return schema
}

// ErrSchemaViolation 归一化后的文档仍未通过schema校验
var ErrSchemaViolation = errors.New("简历JSON未通过schema校验")

// ValidateResumeJSON 校验JSON字节是否符合简历schema
// 校验失败以 ErrSchemaViolation 包装, 便于调用方区分校验错误与提取错误
func ValidateResumeJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("响应不是有效的JSON: %w", err)
	}
	if err := compiledResumeSchema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

// SanitizeModelJSON 剥离模型输出中常见的markdown代码围栏与前后噪声
func SanitizeModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// 剥离 ```json ... ``` 围栏
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// 截取最外层的JSON对象，丢弃围绕它的解释性文字
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// ParseResumeDocument 清洗、反序列化并归一化模型返回的简历JSON
// 归一化后的文档再经schema校验，保证落库数据的枚举与范围约束成立
func ParseResumeDocument(raw string) (*types.ResumeDocument, error) {
	cleaned := SanitizeModelJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("模型响应为空")
	}

	var doc types.ResumeDocument
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("反序列化简历JSON失败: %w", err)
	}

	NormalizeResume(&doc)

	normalized, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("序列化归一化文档失败: %w", err)
	}
	if err := ValidateResumeJSON(normalized); err != nil {
		return nil, err
	}
	return &doc, nil
}

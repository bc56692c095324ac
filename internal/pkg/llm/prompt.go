package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qs3c/insight_go_server/internal/model"
	"github.com/qs3c/insight_go_server/internal/model/dto"
)

// BuildMessages 组装分析一条评论的对话：
// system 携带分析需求和输出字段说明，user 携带评论本体
func BuildMessages(analysisRequest string, fields []dto.OutputField, comment *model.Comment) []Message {
	var fieldLines []string
	for _, field := range fields {
		fieldLines = append(fieldLines, fmt.Sprintf("%s: %s", field.Key, field.Explanation))
	}

	systemPrompt := fmt.Sprintf(`#任务背景和需求
%s

# 结果
请输出一个包含以下键的JSON对象：
%s`, analysisRequest, strings.Join(fieldLines, "\n"))

	userPrompt := fmt.Sprintf(`评论：%s
用户昵称：%s
IP地址位置：%s
用户签名：%s`, comment.Content, comment.Nickname, comment.IPLocation, comment.UserSignature)

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
}

// StripFence 去掉模型回复里常见的 markdown 代码块包裹
func StripFence(raw string) string {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}

// ParseResult 把模型回复解析为键值结果，非字符串值统一转成字符串
func ParseResult(raw string) (model.JSONMap, error) {
	cleaned := StripFence(raw)

	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil, fmt.Errorf("model output is not a JSON object: %w", err)
	}

	result := make(model.JSONMap, len(generic))
	for key, value := range generic {
		switch v := value.(type) {
		case string:
			result[key] = v
		case nil:
			result[key] = ""
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				result[key] = fmt.Sprintf("%v", v)
				continue
			}
			result[key] = string(encoded)
		}
	}
	return result, nil
}

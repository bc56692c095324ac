package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/insight_go_server/internal/model"
	"github.com/qs3c/insight_go_server/internal/model/dto"
)

func TestBuildMessages(t *testing.T) {
	comment := &model.Comment{
		Content:       "全包一平多少钱",
		Nickname:      "装修小白",
		IPLocation:    "浙江",
		UserSignature: "新房到手",
	}
	fields := []dto.OutputField{
		{Key: "意向客户", Explanation: "是/否/不确定"},
		{Key: "分析理由", Explanation: "判断依据"},
	}

	messages := BuildMessages("我们是杭州的装修公司", fields, comment)
	require.Len(t, messages, 2)

	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "我们是杭州的装修公司")
	assert.Contains(t, messages[0].Content, "意向客户: 是/否/不确定")
	assert.Contains(t, messages[0].Content, "分析理由: 判断依据")

	assert.Equal(t, "user", messages[1].Role)
	assert.Contains(t, messages[1].Content, "评论：全包一平多少钱")
	assert.Contains(t, messages[1].Content, "用户昵称：装修小白")
	assert.Contains(t, messages[1].Content, "IP地址位置：浙江")
	assert.Contains(t, messages[1].Content, "用户签名：新房到手")
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a": "b"}`, StripFence("```json\n{\"a\": \"b\"}\n```"))
	assert.Equal(t, `{"a": "b"}`, StripFence("```\n{\"a\": \"b\"}\n```"))
	assert.Equal(t, `{"a": "b"}`, StripFence(`{"a": "b"}`))
}

func TestParseResult(t *testing.T) {
	result, err := ParseResult("```json\n{\"意向客户\": \"是\", \"分析理由\": \"询价\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "是", result["意向客户"])
	assert.Equal(t, "询价", result["分析理由"])
}

func TestParseResult_StringifiesNonStringValues(t *testing.T) {
	result, err := ParseResult(`{"评分": 8, "标签": ["装修", "报价"], "备注": null}`)
	require.NoError(t, err)
	assert.Equal(t, "8", result["评分"])
	assert.Equal(t, `["装修","报价"]`, result["标签"])
	assert.Equal(t, "", result["备注"])
}

func TestParseResult_RejectsNonJSON(t *testing.T) {
	_, err := ParseResult("抱歉，我无法分析这条评论")
	assert.Error(t, err)

	_, err = ParseResult(`["not", "an", "object"]`)
	assert.Error(t, err)
}

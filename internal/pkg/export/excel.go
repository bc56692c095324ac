package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/qs3c/insight_go_server/config"
	"github.com/qs3c/insight_go_server/internal/model"
)

// 固定导出列，分析结果字段追加在后面
var baseColumns = []string{"内容链接", "用户链接", "用户昵称", "IP地址", "用户签名", "评论时间", "评论内容", "comment_id"}

var platformNames = map[string]string{
	"dy":  "抖音",
	"xhs": "小红书",
}

// Excel 把任务评论连同分析结果导出为 xlsx 文件
type Excel struct {
	dir string
}

func NewExcel(cfg *config.ExportConfig) *Excel {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(".", "analysis")
	}
	return &Excel{dir: dir}
}

// BuildArtifact 生成导出文件并返回本地路径
func (e *Excel) BuildArtifact(task *model.Task, comments []*model.Comment) (string, error) {
	extraKeys := collectExtraKeys(comments)
	header := append(append([]string{}, baseColumns...), extraKeys...)

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := setRow(f, sheet, 1, header); err != nil {
		return "", err
	}

	for i, c := range comments {
		row := []string{
			contentLink(c),
			userLink(c),
			c.Nickname,
			c.IPLocation,
			c.UserSignature,
			commentTime(c),
			c.Content,
			c.CommentID,
		}
		for _, key := range extraKeys {
			row = append(row, c.ExtraData[key])
		}
		if err := setRow(f, sheet, i+2, row); err != nil {
			return "", err
		}
	}

	folder := filepath.Join(e.dir, task.Platform)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}

	fileName := fmt.Sprintf("分析-%s-%s-%s-%d.xlsx",
		task.Keyword,
		platformNames[task.Platform],
		time.Now().Format("2006-01-02-15-04-05"),
		task.ID,
	)
	path := filepath.Join(folder, fileName)

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save xlsx: %w", err)
	}
	return path, nil
}

func setRow(f *excelize.File, sheet string, rowIdx int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowIdx)
	if err != nil {
		return err
	}
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return f.SetSheetRow(sheet, cell, &row)
}

// collectExtraKeys 取所有评论分析结果键的并集，排序保证列序稳定
func collectExtraKeys(comments []*model.Comment) []string {
	seen := make(map[string]struct{})
	for _, c := range comments {
		for key := range c.ExtraData {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func contentLink(c *model.Comment) string {
	switch c.Platform {
	case "dy":
		return fmt.Sprintf("https://www.douyin.com/discover?modal_id=%s", c.SourceID)
	case "xhs":
		return fmt.Sprintf("https://www.xiaohongshu.com/explore/%s", c.SourceID)
	}
	return ""
}

func userLink(c *model.Comment) string {
	switch c.Platform {
	case "dy":
		return fmt.Sprintf("https://www.douyin.com/user/%s", c.SecUID)
	case "xhs":
		return fmt.Sprintf("https://www.xiaohongshu.com/user/profile/%s", c.SecUID)
	}
	return ""
}

// commentTime 小红书时间戳是毫秒级，需要先转成秒
func commentTime(c *model.Comment) string {
	ts := c.CreateTime
	if ts == 0 {
		return ""
	}
	if c.Platform == "xhs" {
		ts = ts / 1000
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

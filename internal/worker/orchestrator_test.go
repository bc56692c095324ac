package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/insight_go_server/config"
	"github.com/qs3c/insight_go_server/internal/model"
	"github.com/qs3c/insight_go_server/internal/model/dto"
	"github.com/qs3c/insight_go_server/internal/pkg/llm"
	"github.com/qs3c/insight_go_server/internal/repository"
	"github.com/qs3c/insight_go_server/internal/testutil"
)

// fakeClassifier 可编程的分类器桩
type fakeClassifier struct {
	name  string
	fn    func(ctx context.Context, messages []llm.Message) (string, error)
	calls int64
}

func (f *fakeClassifier) Classify(ctx context.Context, messages []llm.Message) (string, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.fn(ctx, messages)
}

func (f *fakeClassifier) Name() string {
	return f.name
}

func (f *fakeClassifier) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func okClassifier(name string) *fakeClassifier {
	return &fakeClassifier{
		name: name,
		fn: func(ctx context.Context, messages []llm.Message) (string, error) {
			return `{"意向客户": "是", "分析理由": "询问了价格"}`, nil
		},
	}
}

func failingClassifier(name string) *fakeClassifier {
	return &fakeClassifier{
		name: name,
		fn: func(ctx context.Context, messages []llm.Message) (string, error) {
			return "", errors.New("provider unavailable")
		},
	}
}

// blockingClassifier 阻塞到 ctx 取消，用于测试取消传播
func blockingClassifier(name string) *fakeClassifier {
	return &fakeClassifier{
		name: name,
		fn: func(ctx context.Context, messages []llm.Message) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
}

type stubExporter struct {
	calls int32
}

func (s *stubExporter) BuildArtifact(task *model.Task, comments []*model.Comment) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return "/tmp/export.xlsx", nil
}

type stubUploader struct {
	url string
}

func (s *stubUploader) Upload(filePath string) (string, error) {
	return s.url, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Analysis = config.AnalysisConfig{
		Workers:            4,
		MaxRetries:         2,
		RetryBackoffSecs:   0.01,
		BatchSize:          5,
		FlushIntervalMs:    20,
		ProgressIntervalMs: 20,
		PollIntervalMs:     20,
	}
	cfg.LLM.TimeoutSeconds = 5
	return cfg
}

type orchestratorEnv struct {
	db           *gorm.DB
	orchestrator *Orchestrator
	registry     *Registry
	tasks        *repository.TaskRepository
	steps        *repository.TaskStepRepository
	comments     *repository.CommentRepository
	exporter     *stubExporter
}

func setupOrchestrator(t *testing.T, primary, fallback llm.Classifier) *orchestratorEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	registry := NewRegistry()
	taskRepo := repository.NewTaskRepository(db)
	stepRepo := repository.NewTaskStepRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	exporter := &stubExporter{}

	orchestrator := NewOrchestrator(
		registry,
		taskRepo,
		stepRepo,
		commentRepo,
		primary,
		fallback,
		exporter,
		&stubUploader{url: "https://cdn.example.com/exports/export.xlsx"},
		nil,
		testConfig(),
	)

	return &orchestratorEnv{
		db:           db,
		orchestrator: orchestrator,
		registry:     registry,
		tasks:        taskRepo,
		steps:        stepRepo,
		comments:     commentRepo,
		exporter:     exporter,
	}
}

func defaultRequest(taskID int64) *dto.AnalysisRequest {
	return &dto.AnalysisRequest{
		TaskID:          taskID,
		AnalysisRequest: "我们是杭州的装修公司，找有装修意向的客户",
		OutputFields: []dto.OutputField{
			{Key: "意向客户", Explanation: "是/否/不确定"},
			{Key: "分析理由", Explanation: "判断依据"},
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

func (e *orchestratorEnv) waitDone(t *testing.T) {
	t.Helper()
	waitFor(t, 10*time.Second, "analysis run to finish", func() bool {
		return e.registry.Running() == 0
	})
}

func TestOrchestrator_HappyPath(t *testing.T) {
	env := setupOrchestrator(t, okClassifier("primary"), okClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	for i := 0; i < 10; i++ {
		testutil.TestComment(t, env.db, task.ID, fmt.Sprintf("c%03d", i))
	}

	taskID, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)
	assert.Equal(t, task.ID, taskID)

	env.waitDone(t)

	// 所有评论都拿到了结果
	classified, err := env.comments.CountClassified(task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), classified)

	// 意向客户镜像列已回填
	icCount, err := env.comments.CountIntentCustomers(task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), icCount)

	// 步骤落为 finished，进度为总数，带导出地址
	step, err := env.steps.GetByTaskAndType(task.ID, model.StepAnalysis)
	require.NoError(t, err)
	assert.Equal(t, model.StepStateFinished, step.State)
	assert.Equal(t, 10, step.Progress)
	assert.Equal(t, "https://cdn.example.com/exports/export.xlsx", step.URL)
	assert.EqualValues(t, 1, atomic.LoadInt32(&env.exporter.calls))
}

func TestOrchestrator_FallbackPath(t *testing.T) {
	primary := failingClassifier("primary")
	fallback := okClassifier("fallback")
	env := setupOrchestrator(t, primary, fallback)

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	for i := 0; i < 4; i++ {
		testutil.TestComment(t, env.db, task.ID, fmt.Sprintf("c%03d", i))
	}

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)
	env.waitDone(t)

	classified, err := env.comments.CountClassified(task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), classified)

	// 主通道每条评论都试满了重试次数
	assert.EqualValues(t, 4*2, primary.callCount())
	assert.EqualValues(t, 4, fallback.callCount())

	step, err := env.steps.GetByTaskAndType(task.ID, model.StepAnalysis)
	require.NoError(t, err)
	assert.Equal(t, model.StepStateFinished, step.State)
}

func TestOrchestrator_DefaultedResults(t *testing.T) {
	env := setupOrchestrator(t, failingClassifier("primary"), failingClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	for i := 0; i < 6; i++ {
		testutil.TestComment(t, env.db, task.ID, fmt.Sprintf("c%03d", i))
	}

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)
	env.waitDone(t)

	// 两条通道都失败时每条评论仍有兜底结果，一条不丢
	classified, err := env.comments.CountClassified(task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), classified)

	comment, err := env.comments.GetByCommentID(task.ID, "c000")
	require.NoError(t, err)
	assert.Equal(t, "不确定", comment.ExtraData["意向客户"])
	assert.Equal(t, "分析失败， 格式错误", comment.ExtraData["分析理由"])
	assert.Equal(t, "不确定", comment.IntentCustomer)

	step, err := env.steps.GetByTaskAndType(task.ID, model.StepAnalysis)
	require.NoError(t, err)
	assert.Equal(t, model.StepStateFinished, step.State)
}

func TestOrchestrator_Cancellation(t *testing.T) {
	env := setupOrchestrator(t, blockingClassifier("primary"), blockingClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	for i := 0; i < 8; i++ {
		testutil.TestComment(t, env.db, task.ID, fmt.Sprintf("c%03d", i))
	}

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)

	// 等调用进入在途状态
	time.Sleep(100 * time.Millisecond)

	stopAt := time.Now()
	assert.True(t, env.orchestrator.StopAnalysis(task.ID, user.ID))
	env.waitDone(t)
	assert.Less(t, time.Since(stopAt), 5*time.Second)

	// 取消时在途评论被放弃，不写部分结果
	classified, err := env.comments.CountClassified(task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), classified)

	step, err := env.steps.GetByTaskAndType(task.ID, model.StepAnalysis)
	require.NoError(t, err)
	assert.Equal(t, model.StepStateStopped, step.State)
}

func TestOrchestrator_StopIdempotent(t *testing.T) {
	env := setupOrchestrator(t, blockingClassifier("primary"), blockingClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	testutil.TestComment(t, env.db, task.ID, "c001")

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	assert.True(t, env.orchestrator.StopAnalysis(task.ID, user.ID))
	assert.False(t, env.orchestrator.StopAnalysis(task.ID, user.ID))

	env.waitDone(t)

	// 任务结束后再停返回 false
	assert.False(t, env.orchestrator.StopAnalysis(task.ID, user.ID))
}

func TestOrchestrator_RejectsConcurrentStart(t *testing.T) {
	env := setupOrchestrator(t, blockingClassifier("primary"), blockingClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	testutil.TestComment(t, env.db, task.ID, "c001")

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)

	_, err = env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	assert.ErrorIs(t, err, ErrAnalysisRunning)

	env.orchestrator.StopAnalysis(task.ID, user.ID)
	env.waitDone(t)

	// 上一轮结束后可以重新发起
	_, err = env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)
	env.orchestrator.StopAnalysis(task.ID, user.ID)
	env.waitDone(t)
}

func TestOrchestrator_StopWrongUser(t *testing.T) {
	env := setupOrchestrator(t, blockingClassifier("primary"), blockingClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	other := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	testutil.TestComment(t, env.db, task.ID, "c001")

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)

	assert.False(t, env.orchestrator.StopAnalysis(task.ID, other.ID))
	assert.True(t, env.orchestrator.StopAnalysis(task.ID, user.ID))
	env.waitDone(t)
}

func TestOrchestrator_TaskNotFound(t *testing.T) {
	env := setupOrchestrator(t, okClassifier("primary"), okClassifier("fallback"))

	user := testutil.TestUser(t, env.db)

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(99999))
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestOrchestrator_TaskOwnedByOtherUser(t *testing.T) {
	env := setupOrchestrator(t, okClassifier("primary"), okClassifier("fallback"))

	owner := testutil.TestUser(t, env.db)
	intruder := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, owner.ID)

	_, err := env.orchestrator.StartAnalysis(intruder.ID, defaultRequest(task.ID))
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestOrchestrator_InvalidRubric(t *testing.T) {
	env := setupOrchestrator(t, okClassifier("primary"), okClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)

	req := defaultRequest(task.ID)
	req.OutputFields = nil
	_, err := env.orchestrator.StartAnalysis(user.ID, req)
	assert.ErrorIs(t, err, ErrInvalidRubric)

	req = defaultRequest(task.ID)
	req.OutputFields = []dto.OutputField{
		{Key: "意向客户"},
		{Key: "意向客户"},
	}
	_, err = env.orchestrator.StartAnalysis(user.ID, req)
	assert.ErrorIs(t, err, ErrInvalidRubric)
}

func TestOrchestrator_NoComments(t *testing.T) {
	env := setupOrchestrator(t, okClassifier("primary"), okClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)
	env.waitDone(t)

	// 没有评论时不导出、不落 finished
	step, err := env.steps.GetByTaskAndType(task.ID, model.StepAnalysis)
	require.NoError(t, err)
	assert.NotEqual(t, model.StepStateFinished, step.State)
	assert.EqualValues(t, 0, atomic.LoadInt32(&env.exporter.calls))
}

func TestOrchestrator_SkipsAlreadyClassified(t *testing.T) {
	primary := okClassifier("primary")
	env := setupOrchestrator(t, primary, okClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	testutil.TestComment(t, env.db, task.ID, "done001",
		testutil.WithResult(model.JSONMap{"意向客户": "是", "分析理由": "已有结果"}))
	testutil.TestComment(t, env.db, task.ID, "todo001")
	testutil.TestComment(t, env.db, task.ID, "todo002")

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)
	env.waitDone(t)

	// 只分析没有结果的两条
	assert.EqualValues(t, 2, primary.callCount())

	classified, err := env.comments.CountClassified(task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), classified)
}

func TestOrchestrator_PicksUpLateComments(t *testing.T) {
	// 分析稍慢一点，留出爬虫并发写入的窗口
	primary := &fakeClassifier{
		name: "primary",
		fn: func(ctx context.Context, messages []llm.Message) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return `{"意向客户": "否", "分析理由": "闲聊"}`, nil
		},
	}
	env := setupOrchestrator(t, primary, okClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	for i := 0; i < 3; i++ {
		testutil.TestComment(t, env.db, task.ID, fmt.Sprintf("early%03d", i))
	}

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)

	// 模拟爬虫在分析启动后继续写入
	for i := 0; i < 2; i++ {
		testutil.TestComment(t, env.db, task.ID, fmt.Sprintf("late%03d", i))
	}

	env.waitDone(t)

	classified, err := env.comments.CountClassified(task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), classified)
}

func TestOrchestrator_NoDuplicateDispatch(t *testing.T) {
	// 刷盘被批量延迟时，同一条评论会被重复拉出来，必须只分析一次
	var mu sync.Mutex
	seen := make(map[string]int)
	primary := &fakeClassifier{
		name: "primary",
		fn: func(ctx context.Context, messages []llm.Message) (string, error) {
			mu.Lock()
			seen[messages[1].Content]++
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			return `{"意向客户": "是", "分析理由": "ok"}`, nil
		},
	}
	env := setupOrchestrator(t, primary, okClassifier("fallback"))

	user := testutil.TestUser(t, env.db)
	task := testutil.TestTask(t, env.db, user.ID)
	for i := 0; i < 12; i++ {
		testutil.TestComment(t, env.db, task.ID, fmt.Sprintf("c%03d", i),
			testutil.WithContent(fmt.Sprintf("评论内容 %d", i)))
	}

	_, err := env.orchestrator.StartAnalysis(user.ID, defaultRequest(task.ID))
	require.NoError(t, err)
	env.waitDone(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 12)
	for content, count := range seen {
		assert.Equal(t, 1, count, "comment %q classified more than once", content)
	}
}

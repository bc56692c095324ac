package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/insight_go_server/internal/model"
	"github.com/qs3c/insight_go_server/internal/testutil"
)

func TestTaskStepRepository_GetOrCreate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	user := testutil.TestUser(t, db)
	task := testutil.TestTask(t, db, user.ID)
	repo := NewTaskStepRepository(db)

	step, err := repo.GetOrCreate(task.ID, model.StepAnalysis)
	require.NoError(t, err)
	assert.Equal(t, model.StepStateInitial, step.State)
	assert.Equal(t, 0, step.Progress)

	// 再次调用返回同一条记录
	again, err := repo.GetOrCreate(task.ID, model.StepAnalysis)
	require.NoError(t, err)
	assert.Equal(t, step.ID, again.ID)
}

func TestTaskStepRepository_UpdateStatusPartial(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	user := testutil.TestUser(t, db)
	task := testutil.TestTask(t, db, user.ID)
	repo := NewTaskStepRepository(db)

	_, err := repo.GetOrCreate(task.ID, model.StepAnalysis)
	require.NoError(t, err)

	// 只更新进度
	progress := 5
	require.NoError(t, repo.UpdateStatus(task.ID, model.StepAnalysis, nil, &progress, nil))

	step, err := repo.GetByTaskAndType(task.ID, model.StepAnalysis)
	require.NoError(t, err)
	assert.Equal(t, model.StepStateInitial, step.State)
	assert.Equal(t, 5, step.Progress)

	// 状态 + 地址一起更新
	state := model.StepStateFinished
	url := "https://cdn.example.com/exports/a.xlsx"
	require.NoError(t, repo.UpdateStatus(task.ID, model.StepAnalysis, &state, nil, &url))

	step, err = repo.GetByTaskAndType(task.ID, model.StepAnalysis)
	require.NoError(t, err)
	assert.Equal(t, model.StepStateFinished, step.State)
	assert.Equal(t, 5, step.Progress)
	assert.Equal(t, url, step.URL)
	assert.NotZero(t, step.UpdateTime)
}

func TestTaskStepRepository_ListRunningByType(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	user := testutil.TestUser(t, db)
	task1 := testutil.TestTask(t, db, user.ID)
	task2 := testutil.TestTask(t, db, user.ID)
	task3 := testutil.TestTask(t, db, user.ID)
	repo := NewTaskStepRepository(db)

	testutil.TestStep(t, db, task1.ID, model.StepAnalysis, model.StepStateRunning)
	testutil.TestStep(t, db, task2.ID, model.StepAnalysis, model.StepStateFinished)
	testutil.TestStep(t, db, task3.ID, model.StepCrawler, model.StepStateRunning)

	running, err := repo.ListRunningByType(model.StepAnalysis)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, task1.ID, running[0].TaskID)
}

func TestTaskStepRepository_ListByTaskID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	user := testutil.TestUser(t, db)
	task := testutil.TestTask(t, db, user.ID)
	repo := NewTaskStepRepository(db)

	testutil.TestStep(t, db, task.ID, model.StepAnalysis, model.StepStateRunning)
	testutil.TestStep(t, db, task.ID, model.StepCrawler, model.StepStateFinished)

	steps, err := repo.ListByTaskID(task.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	// 按步骤类型升序
	assert.Equal(t, model.StepCrawler, steps[0].StepType)
	assert.Equal(t, model.StepAnalysis, steps[1].StepType)
}

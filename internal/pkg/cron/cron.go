package cron

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/qs3c/insight_go_server/config"
	"github.com/qs3c/insight_go_server/internal/model"
	"github.com/qs3c/insight_go_server/internal/repository"
	"github.com/qs3c/insight_go_server/internal/worker"
)

// Service 后台例行任务：清理过期导出文件、回收进程重启遗留的 running 步骤
type Service struct {
	steps    *repository.TaskStepRepository
	registry *worker.Registry
	cfg      *config.ExportConfig
	stopChan chan struct{}
}

func NewService(steps *repository.TaskStepRepository, registry *worker.Registry, cfg *config.ExportConfig) *Service {
	return &Service{
		steps:    steps,
		registry: registry,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	s.reapOrphanSteps()
	go s.runCleanup()
	log.Println("Cron service started (orphan reaper + export cleanup)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

// reapOrphanSteps 进程崩溃会把分析步骤留在 running 状态，
// 启动时把没有对应在跑任务的步骤改为 stopped
func (s *Service) reapOrphanSteps() {
	steps, err := s.steps.ListRunningByType(model.StepAnalysis)
	if err != nil {
		log.Printf("Reaper: failed to list running steps: %v", err)
		return
	}

	reaped := 0
	for _, step := range steps {
		if _, running := s.registry.Get(step.TaskID); running {
			continue
		}
		state := model.StepStateStopped
		if err := s.steps.UpdateStatus(step.TaskID, model.StepAnalysis, &state, nil, nil); err != nil {
			log.Printf("Reaper: failed to stop orphan step for task %d: %v", step.TaskID, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		log.Printf("Reaper: marked %d orphan analysis steps as stopped", reaped)
	}
}

// runCleanup 每小时清理一次过期导出文件
func (s *Service) runCleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanupExports()
		}
	}
}

// cleanupExports 删除超过保留期的本地导出文件（已上传 OSS，本地只是暂存）
func (s *Service) cleanupExports() {
	if s.cfg.Dir == "" {
		return
	}
	expireHours := s.cfg.ExpireHours
	if expireHours <= 0 {
		expireHours = 24
	}
	expireDuration := time.Duration(expireHours) * time.Hour

	cleaned := 0
	filepath.Walk(s.cfg.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if time.Since(info.ModTime()) > expireDuration {
			if err := os.Remove(path); err != nil {
				log.Printf("Cleanup exports: failed to remove %s: %v", path, err)
			} else {
				cleaned++
			}
		}
		return nil
	})

	if cleaned > 0 {
		log.Printf("Cleanup exports: removed %d expired files", cleaned)
	}
}

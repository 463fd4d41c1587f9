package histdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"backsim/internal/logger"
	"backsim/internal/pkg/circuit"
)

// 任务状态。
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
	JobStatusPartial = "partial"
)

// FetchParams 描述一次回填请求。
type FetchParams struct {
	InstrumentID string `json:"instrument_id"`
	Interval     string `json:"interval"` // 如 1m / 1h / 1d
	Start        int64  `json:"start"`    // Unix 毫秒
	End          int64  `json:"end"`
}

// FetchJob 回填任务的可观测快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Params    FetchParams `json:"params"`
	Status    string      `json:"status"`
	Total     int         `json:"total"`
	Completed int         `json:"completed"`
	Inserted  int         `json:"inserted"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ServiceConfig 配置回填服务。
type ServiceConfig struct {
	Store           *Store
	Sources         map[string]RemoteSource
	DefaultSource   string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// Service 管理回填任务：限速拉取远端 K 线并写入本地行情库。
type Service struct {
	store         *Store
	sources       map[string]RemoteSource
	defaultSource string
	maxBatch      int

	limiter *rate.Limiter
	breaker *circuit.Breaker
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

// NewService 创建回填服务。
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("行情库不能为空")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("至少需要一个远端数据源")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:         cfg.Store,
		sources:       make(map[string]RemoteSource),
		defaultSource: strings.ToLower(cfg.DefaultSource),
		maxBatch:      maxBatch,
		limiter:       rate.NewLimiter(ratePerSec, maxBatch),
		breaker:       circuit.NewBreaker("histdata-fetch", 5, 30*time.Second),
		sem:           make(chan struct{}, maxConcurrent),
		jobs:          make(map[string]*FetchJob),
		baseCtx:       context.Background(),
	}
	for k, v := range cfg.Sources {
		svc.sources[strings.ToLower(k)] = v
	}
	if svc.defaultSource == "" {
		for k := range svc.sources {
			svc.defaultSource = k
			break
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// SubmitFetch 提交回填任务并立即返回，拉取在后台进行。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.InstrumentID == "" || params.Interval == "" {
		return FetchJob{}, fmt.Errorf("instrument/interval 不能为空")
	}
	if params.Start <= 0 || params.End <= params.Start {
		return FetchJob{}, fmt.Errorf("start/end 非法")
	}
	job := &FetchJob{
		ID:        uuid.NewString(),
		Params:    params,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	go s.runJob(job.ID)
	return *job, nil
}

// JobSnapshot 查询任务快照。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return *job, true
}

// Jobs 返回全部任务快照（按创建时间倒序）。
func (s *Service) Jobs() []FetchJob {
	s.mu.RLock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Service) runJob(id string) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx := s.baseCtx
	s.updateJob(id, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = "开始拉取"
	})
	source := s.sources[s.defaultSource]
	job, ok := s.JobSnapshot(id)
	if !ok || source == nil {
		s.updateJob(id, func(j *FetchJob) {
			j.Status = JobStatusFailed
			j.Message = "任务或数据源缺失"
		})
		return
	}

	params := job.Params
	cursor := params.Start
	inserted := 0
	for cursor < params.End {
		if err := s.limiter.Wait(ctx); err != nil {
			s.failJob(id, fmt.Sprintf("限速等待被打断: %v", err))
			return
		}
		if !s.breaker.Allow() {
			s.failJob(id, "远端接口熔断中，稍后重试")
			return
		}
		bars, err := source.FetchBars(ctx, params.InstrumentID, params.Interval, cursor, params.End, s.maxBatch)
		if err != nil {
			s.breaker.RecordFailure()
			s.failJob(id, fmt.Sprintf("拉取失败: %v", err))
			return
		}
		s.breaker.RecordSuccess()
		if len(bars) == 0 {
			break
		}
		n, err := s.store.InsertBars(ctx, params.InstrumentID, params.Interval, SessionDay, bars)
		if err != nil {
			s.failJob(id, fmt.Sprintf("写库失败: %v", err))
			return
		}
		inserted += n
		last := bars[len(bars)-1].CloseTime
		if last <= cursor {
			break
		}
		cursor = last + 1
		s.updateJob(id, func(j *FetchJob) {
			j.Completed++
			j.Inserted = inserted
			j.Message = fmt.Sprintf("已写入 %d 条", inserted)
		})
	}
	s.updateJob(id, func(j *FetchJob) {
		j.Status = JobStatusDone
		j.Inserted = inserted
		j.Message = fmt.Sprintf("完成，共写入 %d 条", inserted)
	})
	logger.Infof("回填任务 %s 完成：%s %s 共 %d 条", id, params.InstrumentID, params.Interval, inserted)
}

func (s *Service) failJob(id, msg string) {
	s.updateJob(id, func(j *FetchJob) {
		j.Status = JobStatusFailed
		j.Message = msg
	})
	logger.Warnf("回填任务 %s 失败: %s", id, msg)
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		fn(job)
		job.UpdatedAt = time.Now()
	}
}

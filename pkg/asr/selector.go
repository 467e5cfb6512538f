package asr

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// 选择策略
const (
	StrategyPriority       = "priority"
	StrategyRoundRobin     = "round_robin"
	StrategyWeightedRandom = "weighted_random"

	// AutoService 按策略自动选择服务
	AutoService = "auto"
)

// 自动选择时检查服务可达的超时
const availabilityTimeout = 3 * time.Second

// ServiceCreator 是创建ASR客户端的函数类型
type ServiceCreator func() (Client, error)

// ServiceStats 服务统计数据
type ServiceStats struct {
	SuccessCount int
	TotalCount   int
	Available    bool
}

// ASRSelector 语音服务选择器，负责在多个ASR服务之间选择并统计成功率
type ASRSelector struct {
	mu              sync.RWMutex
	services        map[string]ServiceCreator // 服务创建函数
	weights         map[string]int            // 权重
	counters        map[string]int            // 使用计数
	stats           map[string]*ServiceStats  // 统计信息
	strategy        string                    // 自动选择策略
	roundRobinIndex int                       // 轮询索引
	serviceList     []string                  // 服务名称列表，用于轮询
	rng             *rand.Rand
}

// NewASRSelector 创建新的ASR服务选择器
func NewASRSelector() *ASRSelector {
	return &ASRSelector{
		services:    make(map[string]ServiceCreator),
		weights:     make(map[string]int),
		counters:    make(map[string]int),
		stats:       make(map[string]*ServiceStats),
		strategy:    StrategyPriority,
		serviceList: make([]string, 0),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetStrategy 设置自动选择策略，未知策略按优先级处理
func (s *ASRSelector) SetStrategy(strategy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strategy {
	case StrategyRoundRobin, StrategyWeightedRandom:
		s.strategy = strategy
	default:
		s.strategy = StrategyPriority
	}
}

// RegisterService 注册ASR服务
func (s *ASRSelector) RegisterService(name string, creator ServiceCreator, weight int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[name]; !exists {
		s.serviceList = append(s.serviceList, name)
	}
	s.services[name] = creator
	s.weights[name] = weight
	s.counters[name] = 0
	s.stats[name] = &ServiceStats{Available: true}

	utils.Debug("注册ASR服务: %s, 权重: %d", name, weight)
}

// ReportResult 报告服务调用结果
func (s *ASRSelector) ReportResult(serviceName string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat, exists := s.stats[serviceName]
	if !exists {
		return
	}
	if success {
		stat.SuccessCount++
	}
	stat.TotalCount++

	// 更新服务可用性
	if !success && stat.Available && stat.TotalCount > 5 && float64(stat.SuccessCount)/float64(stat.TotalCount) < 0.2 {
		stat.Available = false
		utils.Warn("ASR服务 %s 成功率过低，临时禁用", serviceName)
	} else if success && !stat.Available {
		stat.Available = true
		utils.Info("ASR服务 %s 恢复可用", serviceName)
	}
}

// candidates 按当前策略排好序的可用服务，第一个是首选
// advance 为 false 时不移动轮询位置
func (s *ASRSelector) candidates(advance bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	available := make([]string, 0, len(s.serviceList))
	for _, name := range s.serviceList {
		if s.stats[name].Available {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return nil
	}

	switch s.strategy {
	case StrategyRoundRobin:
		return s.orderByRoundRobin(available, advance)
	case StrategyWeightedRandom:
		return s.orderByWeightedRandom(available)
	default:
		s.orderByPriority(available)
		return available
	}
}

// orderByPriority 权重高的在前，权重相同时按注册顺序
func (s *ASRSelector) orderByPriority(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return s.weights[names[i]] > s.weights[names[j]]
	})
}

// orderByRoundRobin 从轮询位置开始依次排列
func (s *ASRSelector) orderByRoundRobin(available []string, advance bool) []string {
	start := s.roundRobinIndex % len(available)
	if advance {
		s.roundRobinIndex = (start + 1) % len(available)
	}

	ordered := make([]string, 0, len(available))
	ordered = append(ordered, available[start:]...)
	return append(ordered, available[:start]...)
}

// orderByWeightedRandom 按权重随机抽出首选，其余按权重排列
func (s *ASRSelector) orderByWeightedRandom(available []string) []string {
	totalWeight := 0
	for _, name := range available {
		if s.weights[name] > 0 {
			totalWeight += s.weights[name]
		}
	}

	rest := append([]string(nil), available...)
	s.orderByPriority(rest)
	if totalWeight <= 0 {
		return rest
	}

	r := s.rng.Intn(totalWeight)
	cumWeight := 0
	for i, name := range rest {
		if s.weights[name] <= 0 {
			continue
		}
		cumWeight += s.weights[name]
		if r < cumWeight {
			ordered := append([]string{name}, rest[:i]...)
			return append(ordered, rest[i+1:]...)
		}
	}
	return rest
}

// GetStats 获取服务使用统计信息
func (s *ASRSelector) GetStats() map[string]map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]map[string]interface{})
	for name, stat := range s.stats {
		successRate := 0.0
		if stat.TotalCount > 0 {
			successRate = float64(stat.SuccessCount) / float64(stat.TotalCount) * 100
		}

		result[name] = map[string]interface{}{
			"count":        s.counters[name],
			"calls":        stat.TotalCount,
			"success_rate": fmt.Sprintf("%.1f%%", successRate),
			"available":    stat.Available,
			"weight":       s.weights[name],
		}
	}
	return result
}

// Resolve 创建客户端，返回的客户端会把每次调用的结果报告给选择器
// 指定名称时只尝试该服务；auto 时按策略依次尝试，跳过创建失败或不可达的服务
func (s *ASRSelector) Resolve(ctx context.Context, serviceName string) (Client, error) {
	name, client, err := s.resolve(ctx, serviceName, true)
	if err != nil {
		return nil, err
	}
	return s.use(name, client), nil
}

// Check 检查服务能否创建，不计入使用次数，启动时用来尽早发现缺少凭据等问题
func (s *ASRSelector) Check(ctx context.Context, serviceName string) error {
	_, _, err := s.resolve(ctx, serviceName, false)
	return err
}

func (s *ASRSelector) resolve(ctx context.Context, serviceName string, advance bool) (string, Client, error) {
	if serviceName != AutoService {
		s.mu.RLock()
		creator, ok := s.services[serviceName]
		s.mu.RUnlock()
		if !ok {
			return "", nil, fmt.Errorf("%w: 未知的ASR服务 %s", ErrNoService, serviceName)
		}

		client, err := creator()
		if err != nil {
			return "", nil, fmt.Errorf("创建ASR服务 %s 失败: %w", serviceName, err)
		}
		return serviceName, client, nil
	}

	candidates := s.candidates(advance)
	if len(candidates) == 0 {
		return "", nil, ErrNoService
	}

	var errs []error
	for _, name := range candidates {
		client, err := s.create(ctx, name)
		if err != nil {
			utils.Warn("ASR服务 %s 不可用，尝试下一个: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		return name, client, nil
	}
	return "", nil, fmt.Errorf("%w: %w", ErrNoService, errors.Join(errs...))
}

// create 创建客户端并检查是否可达
func (s *ASRSelector) create(ctx context.Context, name string) (Client, error) {
	s.mu.RLock()
	creator := s.services[name]
	s.mu.RUnlock()

	client, err := creator()
	if err != nil {
		return nil, err
	}

	if checker, ok := client.(AvailabilityChecker); ok {
		checkCtx, cancel := context.WithTimeout(ctx, availabilityTimeout)
		defer cancel()
		if !checker.IsAvailable(checkCtx) {
			return nil, errors.New("服务不可达")
		}
	}
	return client, nil
}

func (s *ASRSelector) use(name string, client Client) Client {
	s.mu.Lock()
	s.counters[name]++
	s.mu.Unlock()

	utils.Debug("使用ASR服务: %s", name)
	return &reportingClient{Client: client, name: name, selector: s}
}

type reportingClient struct {
	Client
	name     string
	selector *ASRSelector
}

func (c *reportingClient) Transcribe(ctx context.Context, req Request) (string, error) {
	text, err := c.Client.Transcribe(ctx, req)
	c.selector.ReportResult(c.name, err == nil)
	return text, err
}

package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String 返回状态字符串
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen 熔断器打开时拒绝调用
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerError 熔断器错误
type CircuitBreakerError struct {
	Name  string
	State CircuitBreakerState
	Err   error
}

func (e *CircuitBreakerError) Error() string {
	return e.Name + ": " + e.Err.Error()
}

func (e *CircuitBreakerError) Unwrap() error {
	return e.Err
}

// CircuitBreaker 包装远程调用（向量化、向量库、语言模型）
type CircuitBreaker struct {
	name string

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	state           int32
	failureCount    int32
	successCount    int32
	lastFailureTime time.Time
	mutex           sync.RWMutex
	now             func() time.Time
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(name string, failureThreshold int, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            int32(StateClosed),
		now:              time.Now,
	}
}

// Execute 在熔断保护下执行fn；nil熔断器直接执行。
// 调用方取消（context.Canceled）不计入失败。
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if cb == nil {
		return fn(ctx)
	}
	if !cb.canExecute() {
		return &CircuitBreakerError{Name: cb.name, State: cb.GetState(), Err: ErrCircuitOpen}
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.recordSuccess()
	case errors.Is(err, context.Canceled):
	default:
		cb.recordFailure()
	}
	return err
}

func (cb *CircuitBreaker) canExecute() bool {
	switch cb.GetState() {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		cb.mutex.RLock()
		canHalfOpen := cb.now().Sub(cb.lastFailureTime) >= cb.timeout
		cb.mutex.RUnlock()

		if canHalfOpen && atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
			atomic.StoreInt32(&cb.successCount, 0)
			return true
		}
		return cb.GetState() == StateHalfOpen
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.GetState() {
	case StateHalfOpen:
		count := atomic.AddInt32(&cb.successCount, 1)
		if int(count) >= cb.successThreshold {
			atomic.StoreInt32(&cb.state, int32(StateClosed))
			atomic.StoreInt32(&cb.failureCount, 0)
		}
	case StateClosed:
		atomic.StoreInt32(&cb.failureCount, 0)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	cb.lastFailureTime = cb.now()
	cb.mutex.Unlock()

	switch cb.GetState() {
	case StateHalfOpen:
		atomic.StoreInt32(&cb.state, int32(StateOpen))
		atomic.StoreInt32(&cb.successCount, 0)
	case StateClosed:
		count := atomic.AddInt32(&cb.failureCount, 1)
		if int(count) >= cb.failureThreshold {
			atomic.StoreInt32(&cb.state, int32(StateOpen))
		}
	}
}

// GetState 获取当前状态
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	if cb == nil {
		return StateClosed
	}
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// GetStats 获取统计信息
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.GetState().String(),
		"failure_count":     atomic.LoadInt32(&cb.failureCount),
		"success_count":     atomic.LoadInt32(&cb.successCount),
		"failure_threshold": cb.failureThreshold,
		"timeout":           cb.timeout.String(),
		"last_failure_time": cb.lastFailureTime,
	}
}

// Breakers 各远程依赖的熔断器，字段可为nil
type Breakers struct {
	Embedder    *CircuitBreaker
	VectorStore *CircuitBreaker
	ChatModel   *CircuitBreaker
}

// NewBreakers 使用统一阈值创建全部熔断器
func NewBreakers(failureThreshold int, timeout time.Duration) Breakers {
	return Breakers{
		Embedder:    NewCircuitBreaker("embedder", failureThreshold, 1, timeout),
		VectorStore: NewCircuitBreaker("vector_store", failureThreshold, 1, timeout),
		ChatModel:   NewCircuitBreaker("chat_model", failureThreshold, 1, timeout),
	}
}

// Stats 汇总状态，用于健康检查
func (b Breakers) Stats() map[string]string {
	out := make(map[string]string, 3)
	for name, cb := range map[string]*CircuitBreaker{
		"embedder":     b.Embedder,
		"vector_store": b.VectorStore,
		"chat_model":   b.ChatModel,
	} {
		if cb != nil {
			out[name] = cb.GetState().String()
		}
	}
	return out
}

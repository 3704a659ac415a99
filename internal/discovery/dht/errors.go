package dht

import (
	"errors"
	"fmt"
)

// 生命周期与构造
var (
	ErrDHTClosed        = errors.New("dht: DHT is closed")
	ErrAlreadyStarted   = errors.New("dht: DHT already started")
	ErrInvalidConfig    = errors.New("dht: invalid config")
	ErrNilTransport     = errors.New("dht: transport is nil")
	ErrNilKey           = errors.New("dht: private key is nil")
	ErrNoPeersAvailable = errors.New("dht: no peers available")
)

// 查找结果
var (
	// ErrNotFound 网络中没有该键的有效条目（包括已过期）
	ErrNotFound = errors.New("dht: not found")

	// ErrLookupBudgetExhausted 查询次数达到上限仍未收敛
	ErrLookupBudgetExhausted = errors.New("dht: lookup budget exhausted")
)

// 单次查询失败。调用方据此把对端活性降级，ErrTimeout 与 ErrTransport
// 都会触发一次重试。
var (
	ErrTransport         = errors.New("dht: transport error")
	ErrTimeout           = errors.New("dht: query timeout")
	ErrInvalidResponse   = errors.New("dht: invalid response")
	ErrSenderMismatch    = errors.New("dht: sender identity mismatch")
	ErrNonceMismatch     = errors.New("dht: ping nonce mismatch")
	ErrRateLimitExceeded = errors.New("dht: rate limit exceeded")
	ErrInvalidPeerRecord = errors.New("dht: invalid peer record")
)

// 条目完整性。这类条目一律不存储，错误原样返回给发起 STORE 的一方。
var (
	ErrInvalidSignature = errors.New("dht: invalid signature")
	ErrExpiredEntry     = errors.New("dht: expired entry")
	ErrInvalidEntry     = errors.New("dht: invalid entry")
	ErrValueTooLarge    = errors.New("dht: value too large")
)

// errBucketFullProbeFailed 只出现在驱逐日志里
var errBucketFullProbeFailed = errors.New("dht: bucket full, probe failed")

// errLivenessCheckAborted 队尾活性检查因调用方取消而中断，不能据此判定队尾失效
var errLivenessCheckAborted = errors.New("dht: liveness check aborted")

var integrityErrors = []error{ErrInvalidSignature, ErrExpiredEntry, ErrInvalidEntry, ErrValueTooLarge}

// IsIntegrityError 是否为条目完整性错误
func IsIntegrityError(err error) bool {
	for _, target := range integrityErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// DHTError 带操作名的 DHT 错误，errors.Is 可以穿透到 Err
type DHTError struct {
	Op      string
	Err     error
	Message string
}

func (e *DHTError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("dht %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("dht %s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *DHTError) Unwrap() error { return e.Err }

// NewDHTError 创建 DHT 错误
func NewDHTError(op string, err error, message string) *DHTError {
	return &DHTError{Op: op, Err: err, Message: message}
}

// Package engine 定义 DHT 持久化使用的键值引擎接口
//
// 引擎只承担两类数据：签名值条目和路由表快照。两者都按前缀
// 分区，读写模式是逐条写穿加启动时整体扫描，因此接口只提供
// 单键读写、原子批量写、前缀扫描和前缀清空。
package engine

import "errors"

// 引擎错误，badger 的同类错误会被转换成这些值
var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrEmptyKey      = errors.New("storage: empty key")
	ErrClosed        = errors.New("storage: engine closed")
	ErrInvalidConfig = errors.New("storage: invalid configuration")
)

// IsNotFound 报告 err 是否表示键不存在
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Engine 键值存储引擎
//
// 所有方法都必须并发安全。
type Engine interface {
	// Get 获取指定键的值，不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 设置键值对
	Put(key, value []byte) error

	// Delete 删除指定键，键不存在不算错误
	Delete(key []byte) error

	// Apply 在单个事务中执行一组写操作
	Apply(ops []Op) error

	// Scan 按键序遍历所有以 prefix 开头的键值对
	//
	// fn 收到的 key/value 是副本，返回 false 时停止遍历。
	Scan(prefix []byte, fn func(key, value []byte) bool) error

	// DropPrefix 删除所有以 prefix 开头的键
	DropPrefix(prefix []byte) error

	// Start 启动后台任务（值日志 GC）
	Start() error

	// Close 关闭引擎，可以重复调用
	Close() error
}

// Op 批量写入中的单个操作
type Op struct {
	Key   []byte
	Value []byte

	// Delete 为 true 时删除 Key，忽略 Value
	Delete bool
}

// PutOp 构造写入操作
func PutOp(key, value []byte) Op {
	return Op{Key: key, Value: value}
}

// DeleteOp 构造删除操作
func DeleteOp(key []byte) Op {
	return Op{Key: key, Delete: true}
}

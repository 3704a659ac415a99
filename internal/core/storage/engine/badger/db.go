package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-dht/internal/core/storage/engine"
)

// Engine BadgerDB 存储引擎
type Engine struct {
	db     *badger.DB
	config *engine.Config
	closed atomic.Bool

	gcCancel context.CancelFunc
	gcDone   chan struct{}
	gcOnce   sync.Once
}

// New 打开 BadgerDB
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := badger.Open(options(cfg))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	logger.Debug("BadgerDB 已打开", "path", cfg.Path, "inMemory", cfg.InMemory)
	return &Engine{db: db, config: cfg}, nil
}

func options(cfg *engine.Config) badger.Options {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	return opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithMemTableSize(cfg.MemTableSize).
		WithValueLogFileSize(cfg.ValueLogFileSize).
		WithNumMemtables(cfg.NumMemtables).
		WithBlockCacheSize(cfg.BlockCacheSize).
		WithLogger(badgerLogger{})
}

// Start 启动值日志 GC
//
// 内存模式没有值日志文件，不启动。
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.config.GCInterval <= 0 || e.config.InMemory {
		return nil
	}
	e.gcOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		e.gcCancel = cancel
		e.gcDone = make(chan struct{})
		go e.gcLoop(ctx)
	})
	return nil
}

func (e *Engine) gcLoop(ctx context.Context) {
	defer close(e.gcDone)

	ticker := time.NewTicker(e.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 一次 GC 只重写一个文件，循环到没有可回收的为止
			for !e.closed.Load() {
				if err := e.db.RunValueLogGC(e.config.GCDiscardRatio); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						logger.Debug("值日志 GC 结束", "error", err)
					}
					break
				}
			}
		}
	}
}

// Get 获取指定键的值
func (e *Engine) Get(key []byte) ([]byte, error) {
	if err := e.check(key); err != nil {
		return nil, err
	}
	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, convertError(err)
	}
	return value, nil
}

// Put 设置键值对
func (e *Engine) Put(key, value []byte) error {
	return e.Apply([]engine.Op{engine.PutOp(key, value)})
}

// Delete 删除指定键
func (e *Engine) Delete(key []byte) error {
	return e.Apply([]engine.Op{engine.DeleteOp(key)})
}

// Apply 在单个事务中执行一组写操作
//
// 超过 badger 单事务上限时退化为分批提交，此时不再保证原子性。
// 路由表快照是唯一可能触发退化的调用方，部分写入只会让下次恢复少几个节点。
func (e *Engine) Apply(ops []engine.Op) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	for _, op := range ops {
		if len(op.Key) == 0 {
			return engine.ErrEmptyKey
		}
	}
	if len(ops) == 0 {
		return nil
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			if err := apply(txn, op); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		logger.Debug("批量写入超过事务上限，分批提交", "ops", len(ops))
		return e.applyChunked(ops)
	}
	return convertError(err)
}

func apply(txn *badger.Txn, op engine.Op) error {
	if op.Delete {
		return txn.Delete(op.Key)
	}
	return txn.Set(op.Key, op.Value)
}

// applyChunked 用 badger.WriteBatch 提交，由 badger 自行切分事务
func (e *Engine) applyChunked(ops []engine.Op) error {
	wb := e.db.NewWriteBatch()
	defer wb.Cancel()

	for _, op := range ops {
		var err error
		if op.Delete {
			err = wb.Delete(op.Key)
		} else {
			err = wb.Set(op.Key, op.Value)
		}
		if err != nil {
			return convertError(err)
		}
	}
	return convertError(wb.Flush())
}

// Scan 按键序遍历前缀下的键值对
func (e *Engine) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return convertError(e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 64

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), value) {
				return nil
			}
		}
		return nil
	}))
}

// DropPrefix 删除前缀下的全部键
//
// 先只读扫描收集键，再用 WriteBatch 删除。badger 的 DB.DropPrefix 会阻塞
// 全库写入并刷盘，对只有几千个键的快照分区过重。
func (e *Engine) DropPrefix(prefix []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if len(prefix) == 0 {
		return engine.ErrEmptyKey
	}

	var keys [][]byte
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return convertError(err)
	}
	if len(keys) == 0 {
		return nil
	}

	ops := make([]engine.Op, len(keys))
	for i, k := range keys {
		ops[i] = engine.DeleteOp(k)
	}
	return e.applyChunked(ops)
}

// Close 停止 GC 并关闭数据库
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.gcCancel != nil {
		e.gcCancel()
		<-e.gcDone
	}
	return e.db.Close()
}

func (e *Engine) check(key []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return nil
}

// convertError 把 badger 错误映射为引擎错误
func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	case errors.Is(err, badger.ErrDBClosed):
		return engine.ErrClosed
	default:
		return err
	}
}

var _ engine.Engine = (*Engine)(nil)

// Package kv 在存储引擎之上提供按前缀划分的分区
//
// DHT 的两类持久化数据各占一个分区：
//
//	values := kv.New(eng, []byte("d/v/")) // 签名值条目，键为条目 Key
//	routes := kv.New(eng, []byte("d/r/")) // 路由表快照，键为 桶号/节点ID
//
// 分区内的键不带前缀，分区之间互不可见。
package kv

import (
	"encoding/json"

	"github.com/dep2p/go-dht/internal/core/storage/engine"
)

// Store 引擎上的一个前缀分区
type Store struct {
	eng    engine.Engine
	prefix []byte
}

// New 创建分区
func New(eng engine.Engine, prefix []byte) *Store {
	return &Store{eng: eng, prefix: append([]byte(nil), prefix...)}
}

func (s *Store) key(k []byte) []byte {
	full := make([]byte, 0, len(s.prefix)+len(k))
	full = append(full, s.prefix...)
	return append(full, k...)
}

// Get 读取分区内的键
func (s *Store) Get(k []byte) ([]byte, error) {
	return s.eng.Get(s.key(k))
}

// Put 写入分区内的键
func (s *Store) Put(k, v []byte) error {
	return s.eng.Put(s.key(k), v)
}

// Delete 删除分区内的键
func (s *Store) Delete(k []byte) error {
	return s.eng.Delete(s.key(k))
}

// GetJSON 读取并解码 JSON 记录
func (s *Store) GetJSON(k []byte, v any) error {
	data, err := s.Get(k)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutJSON 编码并写入 JSON 记录
func (s *Store) PutJSON(k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(k, data)
}

// Scan 遍历分区，fn 收到的键已去掉分区前缀
func (s *Store) Scan(fn func(k, v []byte) bool) error {
	n := len(s.prefix)
	return s.eng.Scan(s.prefix, func(k, v []byte) bool {
		return fn(k[n:], v)
	})
}

// Len 返回分区内的键数量
func (s *Store) Len() (int, error) {
	n := 0
	err := s.Scan(func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// Clear 清空分区
func (s *Store) Clear() error {
	return s.eng.DropPrefix(s.prefix)
}

// Batch 分区内的批量写入，Commit 时一次提交
//
// Batch 不是并发安全的。
type Batch struct {
	s   *Store
	ops []engine.Op
}

// NewBatch 创建批量写入
func (s *Store) NewBatch() *Batch {
	return &Batch{s: s}
}

// Put 追加写入
func (b *Batch) Put(k, v []byte) {
	b.ops = append(b.ops, engine.PutOp(b.s.key(k), append([]byte(nil), v...)))
}

// PutJSON 追加 JSON 记录
func (b *Batch) PutJSON(k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, engine.PutOp(b.s.key(k), data))
	return nil
}

// Delete 追加删除
func (b *Batch) Delete(k []byte) {
	b.ops = append(b.ops, engine.DeleteOp(b.s.key(k)))
}

// Len 返回待提交的操作数
func (b *Batch) Len() int {
	return len(b.ops)
}

// Commit 提交并清空批量
func (b *Batch) Commit() error {
	if err := b.s.eng.Apply(b.ops); err != nil {
		return err
	}
	b.ops = b.ops[:0]
	return nil
}

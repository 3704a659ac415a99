// Package badger 提供基于 BadgerDB 的存储引擎实现
//
// 支持落盘模式和纯内存模式（engine.InMemoryConfig）。BadgerDB 自身的
// 日志被转接到组件日志 "storage/badger"，警告以上级别原样输出，
// 其余降为 Debug。
//
//	eng, err := badger.New(engine.DefaultConfig("/data/dht/dht.db"))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	err = eng.Scan([]byte("d/v/"), func(key, value []byte) bool {
//	    // ...
//	    return true
//	})
package badger

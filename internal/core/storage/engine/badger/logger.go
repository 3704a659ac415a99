package badger

import (
	"fmt"
	"strings"

	"github.com/dep2p/go-dht/pkg/lib/log"
)

// logger 是 badger 存储引擎的日志记录器
var logger = log.Logger("storage/badger")

// badgerLogger 把 BadgerDB 的 printf 风格日志转接到组件日志
//
// Badger 的 Info 级别输出（压缩、刷盘进度）非常频繁，统一降为 Debug。
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error(trimLine(format, args))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn(trimLine(format, args))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debug(trimLine(format, args))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger.Debug(trimLine(format, args))
}

func trimLine(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

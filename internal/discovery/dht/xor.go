package dht

import (
	"bytes"
	"crypto/rand"
	"math/bits"

	"github.com/dep2p/go-dht/pkg/types"
)

// NumBuckets K-Bucket 数量（NodeID 位数）
const NumBuckets = types.NodeIDSize * 8

// Distance 计算两个 NodeID 的 XOR 距离
//
// 距离按大端序解释为 256 位无符号整数：Distance(a, a) 为全零（最小值），
// Distance(a, b) == Distance(b, a)。
func Distance(a, b types.NodeID) types.NodeID {
	var d types.NodeID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CompareDistance 比较 a 和 b 到 target 的距离
// 返回：
//
//	-1 如果 dist(a, target) < dist(b, target)
//	 0 如果 dist(a, target) == dist(b, target)（仅当 a == b）
//	 1 如果 dist(a, target) > dist(b, target)
func CompareDistance(a, b, target types.NodeID) int {
	for i := 0; i < types.NodeIDSize; i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}

// Closer 判断 x 是否严格比 y 更接近 target
//
// XOR 是双射，所以 x != y 时 Closer(t, x, y) 与 Closer(t, y, x) 恰好一真一假。
func Closer(target, x, y types.NodeID) bool {
	return CompareDistance(x, y, target) < 0
}

// CompareDistances 比较两个距离值
func CompareDistances(a, b types.NodeID) int {
	return bytes.Compare(a[:], b[:])
}

// CommonPrefixLen 计算两个 NodeID 的共同前缀长度（按位计数）
func CommonPrefixLen(a, b types.NodeID) int {
	for i := 0; i < types.NodeIDSize; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return NumBuckets
}

// BucketIndex 计算 remote 应该放入 local 路由表的哪个 K-Bucket
//
// 桶 i 容纳共同前缀长度为 i 的节点，即距离落在 [2^(255-i), 2^(256-i)) 区间。
// 各桶区间互不相交，合起来覆盖除 local 自身以外的整个标识空间。
// local == remote 时返回 -1。
func BucketIndex(local, remote types.NodeID) int {
	cpl := CommonPrefixLen(local, remote)
	if cpl >= NumBuckets {
		return -1
	}
	return cpl
}

// RandomIDInBucket 生成一个落在 local 的第 idx 个桶中的随机 ID
//
// 前 idx 位与 local 相同，第 idx 位取反，其余位随机。
func RandomIDInBucket(local types.NodeID, idx int) types.NodeID {
	var id types.NodeID
	if _, err := rand.Read(id[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	byteIdx, bitIdx := idx/8, uint(idx%8)

	// 复制前缀字节
	copy(id[:byteIdx], local[:byteIdx])

	// 处理边界字节：高 bitIdx 位取 local，第 bitIdx 位取反，低位保持随机
	keepMask := byte(0xFF) << (8 - bitIdx)
	flipBit := byte(0x80) >> bitIdx
	lowMask := flipBit - 1
	b := local[byteIdx]&keepMask | (^local[byteIdx] & flipBit) | id[byteIdx]&lowMask
	id[byteIdx] = b

	return id
}

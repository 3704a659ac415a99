package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dep2p/go-dht/pkg/types"
)

// ============================================================================
// Distance 测试
// ============================================================================

// TestDistance_Identity 测试 Distance(a, a) 为零
func TestDistance_Identity(t *testing.T) {
	a := randomID(t)

	d := Distance(a, a)
	assert.True(t, d.IsEmpty(), "自身距离应为零")

	t.Log("✅ Distance(a, a) == 0")
}

// TestDistance_Symmetric 测试对称性
func TestDistance_Symmetric(t *testing.T) {
	for i := 0; i < 50; i++ {
		a, b := randomID(t), randomID(t)
		assert.Equal(t, Distance(a, b), Distance(b, a))
	}

	t.Log("✅ Distance(a, b) == Distance(b, a)")
}

// TestDistance_NonZero 测试不同 ID 的距离非零
func TestDistance_NonZero(t *testing.T) {
	a, b := randomID(t), randomID(t)
	assert.False(t, Distance(a, b).IsEmpty())
	assert.Positive(t, CompareDistances(Distance(a, b), Distance(a, a)))
}

// TestCloser_Antisymmetric 测试 x != y 时 Closer 恰好一真一假
func TestCloser_Antisymmetric(t *testing.T) {
	for i := 0; i < 100; i++ {
		target, x, y := randomID(t), randomID(t), randomID(t)
		assert.NotEqual(t, Closer(target, x, y), Closer(target, y, x))
	}
	x := randomID(t)
	assert.False(t, Closer(randomID(t), x, x), "相同节点不比自己更近")

	t.Log("✅ Closer 反对称")
}

// TestCompareDistance_MatchesDistance 测试 CompareDistance 与 Distance 比较一致
func TestCompareDistance_MatchesDistance(t *testing.T) {
	for i := 0; i < 50; i++ {
		target, a, b := randomID(t), randomID(t), randomID(t)
		want := CompareDistances(Distance(a, target), Distance(b, target))
		assert.Equal(t, want, CompareDistance(a, b, target))
	}
}

// ============================================================================
// 桶索引测试
// ============================================================================

// TestCommonPrefixLen 测试共同前缀长度
func TestCommonPrefixLen(t *testing.T) {
	var a, b types.NodeID
	assert.Equal(t, NumBuckets, CommonPrefixLen(a, b))

	b[0] = 0x80
	assert.Equal(t, 0, CommonPrefixLen(a, b))

	b[0] = 0x01
	assert.Equal(t, 7, CommonPrefixLen(a, b))

	b[0] = 0
	b[3] = 0x10
	assert.Equal(t, 27, CommonPrefixLen(a, b))

	t.Log("✅ 共同前缀长度正确")
}

// TestBucketIndex_Self 测试自身没有桶
func TestBucketIndex_Self(t *testing.T) {
	a := randomID(t)
	assert.Equal(t, -1, BucketIndex(a, a))
}

// TestBucketIndex_Disjoint 测试桶区间不相交：距离落在 [2^(255-i), 2^(256-i))
func TestBucketIndex_Disjoint(t *testing.T) {
	local := randomID(t)
	for i := 0; i < 100; i++ {
		remote := randomID(t)
		idx := BucketIndex(local, remote)
		d := Distance(local, remote)

		// 距离的最高位 1 恰好在第 idx 位
		assert.Equal(t, idx, CommonPrefixLen(d, types.NodeID{}))
	}

	t.Log("✅ 每个 ID 恰好属于一个桶")
}

// TestRandomIDInBucket 测试生成的 ID 落在指定桶
func TestRandomIDInBucket(t *testing.T) {
	local := randomID(t)
	for _, idx := range []int{0, 1, 7, 8, 9, 15, 100, 254, 255} {
		for i := 0; i < 5; i++ {
			id := RandomIDInBucket(local, idx)
			assert.Equal(t, idx, BucketIndex(local, id), "bucket %d", idx)
		}
	}

	t.Log("✅ RandomIDInBucket 落在目标桶")
}

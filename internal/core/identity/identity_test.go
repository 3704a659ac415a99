package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/pkg/lib/crypto"
)

// ============================================================================
// 身份创建测试
// ============================================================================

// TestIdentity_Generate 测试生成身份
func TestIdentity_Generate(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	assert.False(t, id.ID().IsEmpty())

	derived, err := crypto.NodeIDFromPublicKey(id.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, derived, id.ID())

	assert.Len(t, id.PrivateKey().Seed(), crypto.SeedSize)

	t.Log("✅ 生成身份正确")
}

// TestIdentity_NilKey 测试空私钥
func TestIdentity_NilKey(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, crypto.ErrNilPrivateKey)

	t.Log("✅ 空私钥被拒绝")
}

// ============================================================================
// 密钥文件测试
// ============================================================================

// TestKeyFile_SaveLoad 测试保存后加载得到同一身份
func TestKeyFile_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "node.key")

	id, err := Generate()
	require.NoError(t, err)
	require.NoError(t, SaveKeyFile(id, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, id.ID(), loaded.ID())

	t.Log("✅ 密钥文件往返一致")
}

// TestKeyFile_Missing 测试文件不存在
func TestKeyFile_Missing(t *testing.T) {
	_, err := LoadKeyFile(filepath.Join(t.TempDir(), "none.key"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	t.Log("✅ 缺失文件返回 ErrKeyNotFound")
}

// TestKeyFile_Invalid 测试损坏的密钥文件
func TestKeyFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	notHex := filepath.Join(dir, "a.key")
	require.NoError(t, os.WriteFile(notHex, []byte("zz-not-hex"), 0600))
	_, err := LoadKeyFile(notHex)
	assert.Error(t, err)

	short := filepath.Join(dir, "b.key")
	require.NoError(t, os.WriteFile(short, []byte("abcd"), 0600))
	_, err = LoadKeyFile(short)
	assert.ErrorIs(t, err, crypto.ErrInvalidKeySize)

	t.Log("✅ 损坏的密钥文件被拒绝")
}

// TestLoadOrCreate 测试自动生成与复用
func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	_, err := LoadOrCreate(path, false)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	first, err := LoadOrCreate(path, true)
	require.NoError(t, err)

	second, err := LoadOrCreate(path, true)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())

	ephemeral, err := LoadOrCreate("", false)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), ephemeral.ID())

	t.Log("✅ LoadOrCreate 行为正确")
}

// TestProvide 测试 fx 提供函数
func TestProvide(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Identity.KeyFile = filepath.Join(t.TempDir(), "node.key")

	out, err := Provide(Params{UnifiedCfg: cfg})
	require.NoError(t, err)
	require.NotNil(t, out.Identity)
	assert.Equal(t, out.Identity.PrivateKey(), out.PrivateKey)

	_, err = os.Stat(cfg.Identity.KeyFile)
	assert.NoError(t, err)

	t.Log("✅ Provide 生成并保存身份")
}

package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dep2p/go-dht/pkg/lib/crypto"
)

// ErrKeyNotFound 密钥文件不存在
var ErrKeyNotFound = errors.New("identity: key file not found")

// LoadKeyFile 读取密钥文件
//
// 内容为十六进制的 32 字节种子或 64 字节私钥，首尾空白被忽略。
func LoadKeyFile(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("identity: %s: %w", path, err)
	}
	priv, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("identity: %s: %w", path, err)
	}
	return New(priv)
}

// SaveKeyFile 以 0600 权限写入种子
//
// 先写同目录下的临时文件再 rename，进程中途退出不会留下半个密钥。
func SaveKeyFile(id *Identity, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("identity: mkdir %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".key-*")
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	tmp := f.Name()

	_, err = f.WriteString(hex.EncodeToString(id.PrivateKey().Seed()) + "\n")
	if err == nil {
		err = f.Chmod(0o600)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}

// LoadOrCreate 加载身份，文件缺失且允许自动生成时新建并保存
//
// path 为空时返回不落盘的临时身份。
func LoadOrCreate(path string, autoGenerate bool) (*Identity, error) {
	if path == "" {
		logger.Debug("未配置密钥文件，使用临时身份")
		return Generate()
	}

	id, err := LoadKeyFile(path)
	if err == nil {
		logger.Info("已加载节点身份", "id", id.ID().ShortString(), "file", path)
		return id, nil
	}
	if !errors.Is(err, ErrKeyNotFound) || !autoGenerate {
		return nil, err
	}

	if id, err = Generate(); err != nil {
		return nil, err
	}
	if err := SaveKeyFile(id, path); err != nil {
		return nil, err
	}
	logger.Info("已生成新的节点身份", "id", id.ID().ShortString(), "file", path)
	return id, nil
}

// Package identity 管理本节点的 Ed25519 身份
//
// 节点 ID = SHA-256(公钥)，私钥同时用于签名发布的值条目。
// 密钥以十六进制种子保存在文件中。
package identity

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/pkg/lib/crypto"
	"github.com/dep2p/go-dht/pkg/lib/log"
	"github.com/dep2p/go-dht/pkg/types"
)

var logger = log.Logger("core/identity")

// Identity 节点身份
type Identity struct {
	priv crypto.PrivateKey
	id   types.NodeID
}

// New 从私钥创建身份
func New(priv crypto.PrivateKey) (*Identity, error) {
	id, err := crypto.NodeIDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return &Identity{priv: priv, id: id}, nil
}

// Generate 生成随机身份
func Generate() (*Identity, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv)
}

func (i *Identity) ID() types.NodeID { return i.id }

func (i *Identity) PrivateKey() crypto.PrivateKey { return i.priv }

func (i *Identity) PublicKey() crypto.PublicKey { return i.priv.Public() }

// ============================================================================
//                              Fx 模块
// ============================================================================

// Params 模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result 模块输出
type Result struct {
	fx.Out

	Identity   *Identity
	PrivateKey crypto.PrivateKey
}

// Provide 按配置加载或生成身份
func Provide(p Params) (Result, error) {
	cfg := config.DefaultIdentityConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Identity
	}

	id, err := LoadOrCreate(cfg.KeyFile, cfg.AutoGenerate)
	if err != nil {
		return Result{}, err
	}
	return Result{Identity: id, PrivateKey: id.PrivateKey()}, nil
}

// Module 返回身份 fx 模块
func Module() fx.Option {
	return fx.Module("identity", fx.Provide(Provide))
}

// Package crypto 封装 DHT 使用的 Ed25519 密钥
//
// 发布者用私钥对 ValueEntry 签名，条目携带 32 字节公钥，
// 接收方据此验签，NodeID 是公钥的 SHA-256。
//
//	priv, pub, _ := crypto.GenerateKeyPair()
//	sig := priv.Sign(data)
//	ok := pub.Verify(data, sig)
package crypto

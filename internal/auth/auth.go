package auth

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Credential 是用户身份的唯一来源：公钥的 SHA256 指纹和简化后的算法名。
type Credential struct {
	Fingerprint string
	KeyType     string
}

// FromPublicKey 计算公钥指纹（"SHA256:..." 形式）。
func FromPublicKey(pk ssh.PublicKey) Credential {
	return Credential{
		Fingerprint: ssh.FingerprintSHA256(pk),
		KeyType:     MapKeyType(pk.Type()),
	}
}

// ParseAuthorizedKey 解析一行 authorized_keys 格式的公钥。
func ParseAuthorizedKey(line []byte) (Credential, error) {
	pk, _, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return Credential{}, fmt.Errorf("parse public key: %w", err)
	}
	return FromPublicKey(pk), nil
}

// LoadPublicKeyFile 读取 OpenSSH 公钥文件（如 ~/.ssh/id_ed25519.pub）。
func LoadPublicKeyFile(path string) (Credential, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Credential{}, fmt.Errorf("read public key: %w", err)
	}
	return ParseAuthorizedKey(b)
}

// MapKeyType 把 SSH 算法名映射为存储用的短名称，未知类型原样返回。
func MapKeyType(t string) string {
	switch t {
	case ssh.KeyAlgoED25519:
		return "ed25519"
	case ssh.KeyAlgoECDSA256:
		return "ecdsa256"
	case ssh.KeyAlgoECDSA384:
		return "ecdsa384"
	case ssh.KeyAlgoRSASHA256:
		return "rsa256"
	case ssh.KeyAlgoRSASHA512:
		return "rsa512"
	case ssh.KeyAlgoSKED25519:
		return "sk-ed25519"
	default:
		return t
	}
}

// ShortFingerprint 返回去掉 "SHA256:" 前缀后的前 8 个字符，用于界面展示和日志。
func ShortFingerprint(fp string) string {
	fp = strings.TrimPrefix(fp, "SHA256:")
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}

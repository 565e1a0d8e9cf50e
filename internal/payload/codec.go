// Package payload はログインフィールドの透過的な復号コーデックを提供する。
//
// ネイティブクライアントは各フィールドをAES-256-CBCで暗号化し、その
// 16進表現をbase64で包んで送信する。ブラウザクライアントは同じ
// フィールドを平文のまま送信する。Decodeはどちらの形式かを呼び出し側に
// 申告させることなく透過的に受け付ける。
package payload

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// KeySize はAES-256の鍵長（バイト）。
	KeySize = 32
	// IVSize はCBCモードの初期化ベクトル長（バイト）。
	IVSize = aes.BlockSize
)

// Codec は外部プロビジョニングされた共有鍵とIVによるフィールド復号器。
type Codec struct {
	key []byte
	iv  []byte
}

// NewCodec は鍵長とIV長を検証してCodecを生成する。
func NewCodec(key, iv []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("AES key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("AES IV must be %d bytes, got %d", IVSize, len(iv))
	}
	c := &Codec{
		key: make([]byte, KeySize),
		iv:  make([]byte, IVSize),
	}
	copy(c.key, key)
	copy(c.iv, iv)
	return c, nil
}

// Decode はフィールドを復号する。
//
// base64デコード → 16進デコード → AES-256-CBC復号 → PKCS#7パディング
// 除去の順に解釈し、いずれかの段階で失敗した場合は元の値をそのまま
// 平文として返す（decoded=false）。このフォールバックは暗号化
// クライアントと平文クライアントを単一エンドポイントで受けるための
// 契約の一部であり、エラーではない。Decodeがエラーやpanicを
// 発生させることはない。
func (c *Codec) Decode(field string) (plain string, decoded bool) {
	raw, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return field, false
	}

	ciphertext, err := hex.DecodeString(string(raw))
	if err != nil {
		return field, false
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return field, false
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return field, false
	}

	buf := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(buf, ciphertext)

	out, ok := pkcs7Unpad(buf)
	if !ok || len(out) == 0 {
		// 復号結果が空文字列の場合も平文扱いにフォールバックする
		return field, false
	}

	return string(out), true
}

// Encode は平文をクライアントと同じ形式（base64(hex(ciphertext))）に
// 暗号化する。テストおよびクライアント側実装の検証用。
func (c *Codec) Encode(plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("plaintext must not be empty")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plain))
	buf := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(buf, padded)

	return base64.StdEncoding.EncodeToString([]byte(hex.EncodeToString(buf))), nil
}

// pkcs7Pad はブロック長の倍数になるようPKCS#7パディングを付加する。
func pkcs7Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

// pkcs7Unpad はPKCS#7パディングを検証して除去する。
func pkcs7Unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}

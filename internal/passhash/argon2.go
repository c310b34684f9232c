// Package passhash は受け取り手パスワードのハッシュ化と検証を提供する。
//
// argon2idをレコードごとのランダムソルトと調整可能なコストで使用し、
// PHC文字列形式（$argon2id$v=19$m=...,t=...,p=...$salt$hash）で保存する。
package passhash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash は保存されたハッシュ文字列が解析できないことを示す。
var ErrMalformedHash = errors.New("malformed password hash")

// Params はargon2idのコストパラメータ。
type Params struct {
	Time      uint32 // 反復回数
	MemoryKiB uint32 // メモリ使用量（KiB）
	Threads   uint8  // 並列度
	SaltLen   uint32
	KeyLen    uint32
}

// DefaultParams はデフォルトのコストパラメータを返す。
func DefaultParams() Params {
	return Params{
		Time:      1,
		MemoryKiB: 64 * 1024,
		Threads:   4,
		SaltLen:   16,
		KeyLen:    32,
	}
}

// Hasher はパスワードのハッシュ化と検証を行う。
type Hasher struct {
	params Params
	// dummy はslugが存在しない場合の検証に使うハッシュ。
	// 存在しない受け取り手でも同じコストの検証を行い、応答時間の差を小さくする。
	dummy string
}

// NewHasher はHasherを生成する。
func NewHasher(params Params) (*Hasher, error) {
	if params.Time == 0 || params.MemoryKiB == 0 || params.Threads == 0 {
		return nil, fmt.Errorf("invalid argon2 params: %+v", params)
	}
	if params.SaltLen == 0 {
		params.SaltLen = 16
	}
	if params.KeyLen == 0 {
		params.KeyLen = 32
	}

	h := &Hasher{params: params}
	dummy, err := h.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, err
	}
	h.dummy = dummy
	return h, nil
}

// Hash はパスワードをargon2idでハッシュ化したPHC文字列を返す。
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify はパスワードが保存済みハッシュと一致するかを定数時間で比較する。
// ハッシュに埋め込まれたパラメータで再計算するため、コスト変更後も古いハッシュを検証できる。
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}

	other := argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKiB, p.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// VerifyDummy はダミーハッシュに対して検証を行い、常にfalseを返す。
// 該当レコードがない場合に呼び出し、存在判定を処理時間から推測されにくくする。
func (h *Hasher) VerifyDummy(password string) bool {
	_, _ = h.Verify(password, h.dummy)
	return false
}

func decode(encoded string) (Params, []byte, []byte, error) {
	// "", "argon2id", "v=19", "m=...,t=...,p=...", salt, hash
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}
	if version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedHash, version)
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}

	return p, salt, key, nil
}

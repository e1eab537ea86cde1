// Package base62 提供短碼使用的 Base62 編碼
//
// 字符集：0-9, A-Z, a-z（共 62 個字符），不含 URL 需要轉義的字符。
//
// 短鏈接場景下，編碼的輸入是雜湊值而不是自增 ID：
//   - Encode / Decode：數字與字串互轉
//   - FromHash：把 64 位雜湊折疊到固定長度的短碼空間
package base62

import (
	"errors"
	"strings"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = 62

var (
	// ErrInvalidCharacter 輸入包含非 Base62 字符
	ErrInvalidCharacter = errors.New("invalid character in base62 string")

	// ErrOverflow 解碼結果超出 uint64
	ErrOverflow = errors.New("decoded value exceeds uint64 range")
)

// index 字符 → 數值，-1 表示非法字符
//
// 用陣列而非 map：熱路徑上每個請求都會驗證短碼。
var index [256]int8

func init() {
	for i := range index {
		index[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		index[alphabet[i]] = int8(i)
	}
}

// Encode 將 uint64 編碼為 Base62 字串
//
// 範例：
//
//	Encode(0)  → "0"
//	Encode(61) → "z"
//	Encode(62) → "10"
func Encode(num uint64) string {
	if num == 0 {
		return "0"
	}

	// uint64 最多 11 個 Base62 字符
	var buf [11]byte
	i := len(buf)
	for num > 0 {
		i--
		buf[i] = alphabet[num%base]
		num /= base
	}
	return string(buf[i:])
}

// Decode 將 Base62 字串解碼為 uint64
func Decode(s string) (uint64, error) {
	var result uint64
	for i := 0; i < len(s); i++ {
		v := index[s[i]]
		if v < 0 {
			return 0, ErrInvalidCharacter
		}
		if result > (^uint64(0)-uint64(v))/base {
			return 0, ErrOverflow
		}
		result = result*base + uint64(v)
	}
	return result, nil
}

// IsValid 檢查字串是否只包含 Base62 字符
func IsValid(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if index[s[i]] < 0 {
			return false
		}
	}
	return true
}

// Pad 左側補 '0' 到指定長度
func Pad(encoded string, length int) string {
	if len(encoded) >= length {
		return encoded
	}
	return strings.Repeat("0", length-len(encoded)) + encoded
}

// FromHash 將雜湊值折疊為固定長度的短碼
//
// 系統設計考量：
//   - 長度 6 → 62^6 ≈ 568 億個短碼，碰撞由呼叫方的重試處理
//   - 固定長度讓路由規則與資料庫欄位寬度可預期
//   - length 超過 10 時 62^length 會溢出 uint64，直接使用完整雜湊
func FromHash(hash uint64, length int) string {
	if length <= 0 {
		return Encode(hash)
	}
	if length <= 10 {
		space := uint64(1)
		for i := 0; i < length; i++ {
			space *= base
		}
		hash %= space
	}
	return Pad(Encode(hash), length)
}

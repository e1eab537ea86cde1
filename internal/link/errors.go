package link

import (
	apperrors "github.com/koopa0/system-design/short-link/pkg/errors"
)

// 領域錯誤
//
// 使用 *AppError，handler 透過錯誤碼決定 HTTP 狀態碼。
var (
	// ErrInvalidURL 原始 URL 格式錯誤或指向內網
	ErrInvalidURL = apperrors.New(apperrors.ErrCodeInvalidInput, "invalid origin url")

	// ErrDomainNotAllowed 原始 URL 網域不在白名單
	ErrDomainNotAllowed = apperrors.New(apperrors.ErrCodeInvalidInput, "origin domain not allowed")

	// ErrInvalidRequest 其他參數錯誤
	ErrInvalidRequest = apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request")

	// ErrNotFound 短碼不存在、已刪除或已過期
	ErrNotFound = apperrors.New(apperrors.ErrCodeNotFound, "short link not found")

	// ErrGenerationExhausted 短碼生成重試次數用盡
	ErrGenerationExhausted = apperrors.New(apperrors.ErrCodeExhausted, "short code generation exhausted")

	// ErrDuplicateCode 寫入時違反唯一性約束
	ErrDuplicateCode = apperrors.New(apperrors.ErrCodeAlreadyExists, "short code already exists")

	// ErrLockConflict try-lock 失敗
	ErrLockConflict = apperrors.New(apperrors.ErrCodeConflict, "operation in progress, retry later")

	// ErrUnavailable 依賴故障或等待鎖逾時
	ErrUnavailable = apperrors.New(apperrors.ErrCodeUnavailable, "short link service unavailable")
)

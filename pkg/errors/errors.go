// Package errors 提供短鏈接服務的錯誤分類
//
// 錯誤碼與 HTTP 狀態碼一一對應，handler 不需要認識每一個領域錯誤。
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 錯誤碼
const (
	// ErrCodeInvalidInput 客戶端輸入錯誤（URL 格式、白名單）
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeNotFound 短碼不存在、已刪除或已過期
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeAlreadyExists 寫入時違反唯一性約束
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeExhausted 短碼生成重試次數用盡
	ErrCodeExhausted = "GENERATION_EXHAUSTED"
	// ErrCodeConflict 鎖被佔用（try-lock 失敗）
	ErrCodeConflict = "CONFLICT"
	// ErrCodeUnavailable 依賴不可用或等待鎖逾時
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼 + 訊息比對
//
// 只比錯誤碼的話，ErrGenerationExhausted 與其他 500 類錯誤無法區分。
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

// New 建立錯誤
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap 包裝底層錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// WithDetails 回傳帶有詳細資訊的副本
//
// 預定義錯誤是共用的套件變數，不能原地修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause 回傳包裝 cause 的副本
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Err = cause
	return &cp
}

// CodeOf 取出錯誤碼，非 AppError 視為內部錯誤
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus 將錯誤映射為 HTTP 狀態碼
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeAlreadyExists, ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsInvalidInput 檢查是否為輸入錯誤
func IsInvalidInput(err error) bool {
	return CodeOf(err) == ErrCodeInvalidInput
}

// IsConflict 檢查是否為鎖衝突
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeConflict
}

// IsUnavailable 檢查是否為服務不可用
func IsUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeUnavailable
}

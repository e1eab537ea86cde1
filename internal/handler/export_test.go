package handler

// ClientIP 測試用
var ClientIP = clientIP

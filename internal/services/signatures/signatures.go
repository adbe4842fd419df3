package signatures

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// Подписи считаются по СЫРЫМ байтам запроса. Пере-сериализация
// распарсенного JSON ломает проверку, поэтому verify-функции принимают
// тело как есть, до любого декодирования.

// VerifyPlatform — HMAC-SHA256 с секретом магазина, base64.
func VerifyPlatform(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyAggregator — sha256 hex от payload + "/" + apiKey.
func VerifyAggregator(apiKey, signature string, body []byte) bool {
	if apiKey == "" || signature == "" {
		return false
	}
	h := sha256.New()
	_, _ = h.Write(body)
	_, _ = h.Write([]byte("/"))
	_, _ = h.Write([]byte(apiKey))
	expected := hex.EncodeToString(h.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// SignPlatform — обратная сторона VerifyPlatform; нужна тестам и локальному стенду.
func SignPlatform(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignAggregator — обратная сторона VerifyAggregator.
func SignAggregator(apiKey string, body []byte) string {
	h := sha256.New()
	_, _ = h.Write(body)
	_, _ = h.Write([]byte("/"))
	_, _ = h.Write([]byte(apiKey))
	return hex.EncodeToString(h.Sum(nil))
}

package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	// ErrMissingSignature is returned when the signature header is missing.
	ErrMissingSignature = errors.New("missing signature header")
	// ErrInvalidSignature is returned when the signature verification fails.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidSignatureFormat is returned when the signature format is invalid.
	ErrInvalidSignatureFormat = errors.New("invalid signature format")
	// ErrStaleSignature is returned when the signed timestamp is outside the allowed skew.
	ErrStaleSignature = errors.New("signature timestamp outside allowed window")
)

const (
	// SignatureHeader carries "sha256=<hex>" for operator requests.
	SignatureHeader = "X-Signature"
	// SignatureTimestampHeader carries the unix seconds the request was signed at.
	SignatureTimestampHeader = "X-Signature-Timestamp"
	// SignaturePrefix precedes the hex digest in SignatureHeader.
	SignaturePrefix = "sha256="
	// DefaultMaxSkew is how far a signed timestamp may be from now.
	DefaultMaxSkew = 5 * time.Minute
)

// SignatureConfig holds request signing settings for operator routes such as
// restock and lease eviction.
type SignatureConfig struct {
	// Secret is the shared HMAC key. Empty disables verification (development mode).
	Secret []byte
	// MaxSkew bounds replay of a captured request.
	MaxSkew time.Duration
	// Now returns the current time; nil means time.Now.
	Now func() time.Time
}

// signedPayload is what the signature covers: method, path, timestamp and body.
func signedPayload(method, path, timestamp string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(method)
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.WriteString(timestamp)
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}

// ComputeSignature returns the hex-encoded HMAC-SHA256 of a request.
func ComputeSignature(secret []byte, method, path, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(signedPayload(method, path, timestamp, body))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a request signature using constant-time comparison.
func VerifySignature(secret []byte, method, path, timestamp string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, method, path, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// verify returns nil when the request carries a fresh, valid signature.
func (cfg SignatureConfig) verify(c *gin.Context, body []byte) error {
	sigHeader := c.GetHeader(SignatureHeader)
	if sigHeader == "" {
		return ErrMissingSignature
	}

	signature := strings.TrimPrefix(sigHeader, SignaturePrefix)
	if signature == sigHeader {
		return ErrInvalidSignatureFormat
	}

	timestamp := c.GetHeader(SignatureTimestampHeader)
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignatureFormat
	}

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	maxSkew := cfg.MaxSkew
	if maxSkew == 0 {
		maxSkew = DefaultMaxSkew
	}
	skew := now().Sub(time.Unix(unix, 0))
	if skew > maxSkew || skew < -maxSkew {
		return ErrStaleSignature
	}

	if !VerifySignature(cfg.Secret, c.Request.Method, c.Request.URL.Path, timestamp, body, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// RequireSignature creates a Gin middleware that verifies operator request
// signatures. If the secret is empty, the middleware skips verification.
func RequireSignature(cfg SignatureConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(cfg.Secret) == 0 {
			c.Next()
			return
		}

		var body []byte
		if c.Request.Body != nil {
			var err error
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				_ = c.Error(err)
				var maxBytesErr *http.MaxBytesError
				if errors.As(err, &maxBytesErr) {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
					Error:      "badRequest",
					Message:    "failed to read request body",
					StatusCode: http.StatusBadRequest,
				})
				return
			}
			// Restore body for downstream handlers
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		if err := cfg.verify(c, body); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:      "unauthorized",
				Message:    err.Error(),
				StatusCode: http.StatusUnauthorized,
			})
			return
		}

		c.Next()
	}
}

package emailerror

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
)

// Transport names understood by the classifier
const (
	TransportSMTP    = "smtp"
	TransportSES     = "ses"
	TransportConsole = "console"
)

// Classifier classifies email sending errors
type Classifier struct{}

// NewClassifier creates a new error classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify analyzes an error and returns a ClassifiedError with its type and category
func (c *Classifier) Classify(err error, transport string) *ClassifiedError {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	status := extractStatusCode(err, errStr)

	result := &ClassifiedError{
		Original:   err,
		Transport:  transport,
		StatusCode: status,
		Category:   categorize(err, errStr, status),
	}

	switch transport {
	case TransportSES:
		result.Type, result.Retryable = classifySES(errStr, status)
	case TransportSMTP:
		result.Type, result.Retryable = classifySMTP(errStr, status)
	default:
		result.Type, result.Retryable = classifyByStatus(status)
	}

	if result.Category == CategoryRecipient && result.Type == ErrorTypeUnknown {
		result.Type = ErrorTypeRecipient
		result.Retryable = false
	}
	if result.Type == ErrorTypeRecipient && result.Category == CategoryGeneral {
		result.Category = CategoryRecipient
	}
	return result
}

// Category is a shortcut returning only the category of err
func (c *Classifier) Category(err error) Category {
	if err == nil {
		return ""
	}
	return categorize(err, err.Error(), extractStatusCode(err, err.Error()))
}

var (
	// Matches patterns like "status code: 429", "status_code: 500", "status code 503"
	httpStatusRegex = regexp.MustCompile(`(?i)status[_\s]code[:\s]*(\d{3})`)

	// Matches patterns like "HTTP 429", "http/1.1 500"
	httpPrefixRegex = regexp.MustCompile(`(?i)http[/\d.]*\s+(\d{3})`)

	// Matches an SMTP reply code at the start of the message or after a colon: "550 5.1.1 ...", "send: 421 ..."
	smtpReplyRegex = regexp.MustCompile(`(?:^|:\s)([245]\d{2})[\s-]`)
)

// extractStatusCode looks for a typed SMTP error first, then for a code in the message
func extractStatusCode(err error, errStr string) int {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Code
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code
	}

	for _, re := range []*regexp.Regexp{httpStatusRegex, httpPrefixRegex, smtpReplyRegex} {
		if matches := re.FindStringSubmatch(errStr); len(matches) >= 2 {
			if status, err := strconv.Atoi(matches[1]); err == nil {
				return status
			}
		}
	}
	return 0
}

var (
	timeoutPatterns    = []string{"timeout", "timed out", "deadline exceeded"}
	tlsPatterns        = []string{"tls", "ssl", "certificate", "x509"}
	dnsPatterns        = []string{"no such host", "nxdomain", "enotfound", "dns", "server misbehaving"}
	connectionPatterns = []string{"connection refused", "connection reset", "econnrefused", "econnreset", "broken pipe", "unexpected eof", "network is unreachable", "connection closed"}
	authPatterns       = []string{"auth", "login failed", "credentials", "invalidclienttokenid", "signaturedoesnotmatch", "accessdenied", "expiredtoken"}
	rateLimitPatterns  = []string{"rate limit", "rate exceeded", "ratelimit", "throttl", "quota", "too many", "try again later", "greylist"}
)

// categorize picks the first matching category, most specific causes first
func categorize(err error, errStr string, status int) Category {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) || containsAny(errStr, timeoutPatterns) {
		return CategoryTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || containsAny(errStr, dnsPatterns) {
		return CategoryDNS
	}
	if containsAny(errStr, tlsPatterns) {
		return CategoryTLS
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || containsAny(errStr, connectionPatterns) {
		return CategoryConnection
	}
	if isSenderVerificationError(errStr) {
		return CategoryAuth
	}
	if containsAny(errStr, smtpRecipientPatterns) || containsAny(errStr, sesRecipientPatterns) {
		return CategoryRecipient
	}
	if containsAny(errStr, authPatterns) {
		return CategoryAuth
	}
	if containsAny(errStr, rateLimitPatterns) {
		return CategoryRateLimit
	}

	switch {
	case status == 429, status == 421, status == 450, status == 451, status == 452:
		return CategoryRateLimit
	case status == 401, status == 403, status == 530, status == 534, status == 535:
		return CategoryAuth
	case status >= 550 && status <= 553:
		return CategoryRecipient
	}
	return CategoryGeneral
}

// classifyByStatus provides classification based on an HTTP status or SMTP reply code
func classifyByStatus(status int) (ErrorType, bool) {
	switch {
	case status == 0:
		return ErrorTypeUnknown, true
	case status == 406, status >= 550 && status <= 553:
		return ErrorTypeRecipient, false
	case status == 429, status >= 500 && status < 550, status >= 421 && status <= 452:
		return ErrorTypeProvider, true
	case status == 401, status == 403:
		return ErrorTypeProvider, false
	default:
		return ErrorTypeUnknown, true
	}
}

// containsAny checks if the error string contains any of the patterns (case-insensitive)
func containsAny(errStr string, patterns []string) bool {
	errLower := strings.ToLower(errStr)
	for _, pattern := range patterns {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}
	return false
}

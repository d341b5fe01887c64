package emailerror

// ErrorType tells whether a failure concerns the recipient or the provider
type ErrorType string

const (
	// ErrorTypeRecipient indicates a recipient-specific error (bad address, mailbox full)
	ErrorTypeRecipient ErrorType = "recipient"

	// ErrorTypeProvider indicates a provider or infrastructure error (auth, throttling, outage)
	ErrorTypeProvider ErrorType = "provider"

	// ErrorTypeUnknown indicates an unclassified error
	ErrorTypeUnknown ErrorType = "unknown"
)

// Category groups send failures for reporting
type Category string

const (
	CategoryTimeout    Category = "timeout"
	CategoryConnection Category = "connection"
	CategoryAuth       Category = "auth"
	CategoryRateLimit  Category = "rate_limit"
	CategoryDNS        Category = "dns"
	CategoryTLS        Category = "tls"
	CategoryRecipient  Category = "recipient"
	CategoryGeneral    Category = "general"
)

// Categories lists every category in reporting order
var Categories = []Category{
	CategoryTimeout,
	CategoryConnection,
	CategoryAuth,
	CategoryRateLimit,
	CategoryDNS,
	CategoryTLS,
	CategoryRecipient,
	CategoryGeneral,
}

// ClassifiedError wraps an error with classification metadata
type ClassifiedError struct {
	// Original is the underlying error
	Original error

	Type     ErrorType
	Category Category

	// Transport is the send capability that produced the error (smtp, ses, console)
	Transport string

	// StatusCode is the SMTP reply code or HTTP status found in the error, 0 if none
	StatusCode int

	// Retryable is the provider's own hint. It is informational, the retry budget applies regardless.
	Retryable bool
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	if e.Original == nil {
		return ""
	}
	return e.Original.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *ClassifiedError) Unwrap() error {
	return e.Original
}

// IsRecipientError returns true if this is a recipient-related error
func (e *ClassifiedError) IsRecipientError() bool {
	return e.Type == ErrorTypeRecipient
}

// IsProviderError returns true for provider errors, unknown errors count as provider errors
func (e *ClassifiedError) IsProviderError() bool {
	return e.Type == ErrorTypeProvider || e.Type == ErrorTypeUnknown
}

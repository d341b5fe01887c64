package emailerror

// SMTP replies:
//   - 550-553 and enhanced codes 5.1.x/5.2.x concern the recipient mailbox
//   - 421 and 450-452 are temporary provider failures
//   - connection, TLS and auth failures concern the relay

var smtpRecipientPatterns = []string{
	"5.1.1", // mailbox does not exist
	"5.1.2", // bad destination system
	"5.1.3", // bad destination mailbox syntax
	"5.2.1", // mailbox disabled
	"5.2.2", // mailbox full
	"mailbox unavailable",
	"mailbox not found",
	"user unknown",
	"no such user",
	"recipient rejected",
	"mailbox full",
	"over quota",
}

var smtpProviderPatterns = []string{
	"4.7.1",
	"connection refused",
	"connection reset",
	"timed out",
	"timeout",
	"tls",
	"authentication failed",
	"auth failed",
	"login failed",
	"service unavailable",
	"try again later",
	"temporary failure",
	"greylist",
}

func classifySMTP(errStr string, status int) (ErrorType, bool) {
	if containsAny(errStr, smtpRecipientPatterns) || (status >= 550 && status <= 553) {
		return ErrorTypeRecipient, false
	}
	if containsAny(errStr, smtpProviderPatterns) || (status >= 421 && status <= 452) {
		return ErrorTypeProvider, true
	}
	if status == 530 || status == 534 || status == 535 {
		return ErrorTypeProvider, false
	}
	return classifyByStatus(status)
}

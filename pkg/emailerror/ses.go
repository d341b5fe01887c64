package emailerror

// Amazon SES error codes. MessageRejected and address errors concern the recipient,
// throttling and quota errors are temporary, credential errors need an operator.

var sesRecipientPatterns = []string{
	"messagerejected",
	"invalid recipient",
	"address rejected",
	"recipient rejected",
}

var sesThrottlePatterns = []string{
	"throttling",
	"limitexceeded",
	"quota exceeded",
	"daily message quota",
	"maximum sending rate",
}

var sesProviderPatterns = []string{
	"serviceunavailable",
	"service unavailable",
	"accessdenied",
	"invalidclienttokenid",
	"signaturedoesnotmatch",
	"expiredtoken",
	"account is paused",
	"sending paused",
	"configurationset",
}

func classifySES(errStr string, status int) (ErrorType, bool) {
	if containsAny(errStr, sesRecipientPatterns) {
		if isSenderVerificationError(errStr) {
			return ErrorTypeProvider, false
		}
		return ErrorTypeRecipient, false
	}
	if containsAny(errStr, sesThrottlePatterns) {
		return ErrorTypeProvider, true
	}
	if containsAny(errStr, sesProviderPatterns) {
		return ErrorTypeProvider, false
	}
	return classifyByStatus(status)
}

// isSenderVerificationError matches SES rejections caused by an unverified sending identity
func isSenderVerificationError(errStr string) bool {
	return containsAny(errStr, []string{"sender", "from address"}) && containsAny(errStr, []string{"not verified"})
}

package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/apperrors"
)

// InjectionCheckResult contains the result of an injection check on free text.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// DetectInjection uses libinjection to detect SQL injection payloads in text.
// Returns nil when the text is clean.
//
// Example:
//
//	DetectInjection("How many employees joined last year?") // nil
//	DetectInjection("1' OR '1'='1")                          // IsSQLi == true
func DetectInjection(text string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(text)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
	}
}

// ScreenQuestion rejects a natural-language question that is itself an injection payload,
// before any of it reaches a prompt. Returns a wrapped apperrors.ErrQuestionRejected.
func ScreenQuestion(question string) error {
	if result := DetectInjection(question); result != nil {
		return fmt.Errorf("%w: matches injection fingerprint %q", apperrors.ErrQuestionRejected, result.Fingerprint)
	}
	return nil
}

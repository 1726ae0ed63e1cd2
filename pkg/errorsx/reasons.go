package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// A capability runtime failed to initialize. Fatal to that
	// capability, surfaced as a persistent error state.
	ReasonLoadFailure ReasonCode = "load_failure"

	ReasonRecognitionNoSpeech ReasonCode = "recognition_no_speech"
	ReasonRecognitionAborted  ReasonCode = "recognition_aborted"
	ReasonRecognitionFailed   ReasonCode = "recognition_failed"
	ReasonRecognitionConnect  ReasonCode = "recognition_connect"

	ReasonGenerationFailed    ReasonCode = "generation_failed"
	ReasonGenerationRateLimit ReasonCode = "generation_rate_limit"

	ReasonSynthesisFailed  ReasonCode = "synthesis_failed"
	ReasonSynthesisConnect ReasonCode = "synthesis_connect"
	ReasonFallbackFailed   ReasonCode = "fallback_failed"

	ReasonTransportSend ReasonCode = "transport_send"
)

// Benign reports whether a recognition error may auto-recover: in
// always-on mode the recognizer restarts after these, everything else
// surfaces a message and returns to idle.
func Benign(reason ReasonCode) bool {
	switch reason {
	case ReasonRecognitionNoSpeech, ReasonRecognitionAborted:
		return true
	default:
		return false
	}
}

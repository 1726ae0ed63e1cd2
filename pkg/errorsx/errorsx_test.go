package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonGenerationFailed)
	if Reason(err) != ReasonGenerationFailed {
		t.Fatalf("expected reason %s, got %s", ReasonGenerationFailed, Reason(err))
	}
	if !HasReason(err, ReasonGenerationFailed) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonSynthesisFailed)
	second := Wrap(first, ReasonGenerationFailed)
	if Reason(second) != ReasonSynthesisFailed {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestBenign(t *testing.T) {
	if !Benign(ReasonRecognitionNoSpeech) {
		t.Fatalf("no_speech should be benign")
	}
	if !Benign(ReasonRecognitionAborted) {
		t.Fatalf("aborted should be benign")
	}
	if Benign(ReasonRecognitionFailed) {
		t.Fatalf("recognition_failed should not be benign")
	}
	if Benign(ReasonLoadFailure) {
		t.Fatalf("load_failure should not be benign")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{Transient("TMP", "try again"), ErrorKindTransient},
		{Permanent("DECLINED", "account closed"), ErrorKindPermanent},
		{BusinessRule("LIMIT", "over limit"), ErrorKindBusinessRule},
		{errors.New("plain"), ErrorKindTransient},
		{fmt.Errorf("wrapped: %w", Permanent("X", "y")), ErrorKindPermanent},
		{fmt.Errorf("wrapped: %w", BusinessRule("X", "y")), ErrorKindBusinessRule},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestErrorInfoFrom(t *testing.T) {
	info := ErrorInfoFrom(Permanent("DECLINED", "account closed"))
	if info.Kind != string(ErrorKindPermanent) || info.Code != "DECLINED" || info.Message != "account closed" {
		t.Errorf("unexpected info: %+v", info)
	}

	info = ErrorInfoFrom(errors.New("boom"))
	if info.Kind != string(ErrorKindTransient) || info.Code != "UNCLASSIFIED" {
		t.Errorf("uncategorized errors should map to transient/UNCLASSIFIED, got %+v", info)
	}
}

func TestCommandStatusTerminal(t *testing.T) {
	terminal := []CommandStatus{CommandStatusCompleted, CommandStatusCanceled, CommandStatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []CommandStatus{CommandStatusPending, CommandStatusInProgress, CommandStatusInTroubleshooting}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

package pipeline

import (
	"errors"
	"testing"
)

func TestStage_Advance(t *testing.T) {
	tests := []struct {
		from, to Stage
		ok       bool
	}{
		{StagePending, StageStaged, true},
		{StageStaged, StageUploaded, true},
		{StageUploaded, StageDone, true},
		{StagePending, StageLoaded, true},
		{StageLoaded, StageDone, true},
		{StageStaged, StageFailed, true},
		{StagePending, StageUploaded, false},
		{StageStaged, StageDone, false},
		{StageDone, StageFailed, false},
		{StageFailed, StagePending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, err := tt.from.Advance(tt.to)
			if tt.ok {
				if err != nil || got != tt.to {
					t.Errorf("Advance = %s, %v", got, err)
				}
				return
			}
			if !errors.Is(err, ErrIllegalTransition) {
				t.Errorf("err = %v, want ErrIllegalTransition", err)
			}
			if got != tt.from {
				t.Errorf("stage moved to %s on illegal transition", got)
			}
		})
	}
}

func TestStage_Terminal(t *testing.T) {
	for _, s := range []Stage{StageDone, StageFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Stage{StagePending, StageStaged, StageUploaded, StageLoaded} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

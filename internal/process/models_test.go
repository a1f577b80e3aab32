package process_test

import (
	"testing"
	"time"

	"doppel/internal/process"
)

func TestStageStatusBinding(t *testing.T) {
	cases := []struct {
		stage      process.Stage
		processing process.Status
		done       process.Status
	}{
		{process.StageAvatar, process.StatusAvatarProcessing, process.StatusAvatarDone},
		{process.StageVoice, process.StatusVoiceProcessing, process.StatusVoiceDone},
		{process.StageVideo, process.StatusVideoProcessing, process.StatusVideoDone},
	}
	for _, tc := range cases {
		if got := tc.stage.Processing(); got != tc.processing {
			t.Fatalf("%s.Processing() = %s, expected %s", tc.stage, got, tc.processing)
		}
		if got := tc.stage.Done(); got != tc.done {
			t.Fatalf("%s.Done() = %s, expected %s", tc.stage, got, tc.done)
		}
		stage, ok := process.StageForStatus(tc.processing)
		if !ok || stage != tc.stage {
			t.Fatalf("StageForStatus(%s) = %s/%v", tc.processing, stage, ok)
		}
	}
}

func TestStageOrder(t *testing.T) {
	next, ok := process.StageAvatar.Next()
	if !ok || next != process.StageVoice {
		t.Fatalf("avatar next = %s/%v", next, ok)
	}
	next, ok = process.StageVoice.Next()
	if !ok || next != process.StageVideo {
		t.Fatalf("voice next = %s/%v", next, ok)
	}
	if _, ok := process.StageVideo.Next(); ok {
		t.Fatal("video should be the last stage")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to process.Status
		allowed  bool
	}{
		{process.StatusAvatarProcessing, process.StatusAvatarDone, true},
		{process.StatusAvatarDone, process.StatusVoiceProcessing, true},
		{process.StatusVideoDone, process.StatusCompleted, true},
		{process.StatusAvatarProcessing, process.StatusFailed, true},
		{process.StatusVoiceDone, process.StatusFailed, true},
		{process.StatusAvatarProcessing, process.StatusVoiceProcessing, false},
		{process.StatusVoiceDone, process.StatusAvatarDone, false},
		{process.StatusCompleted, process.StatusFailed, false},
		{process.StatusFailed, process.StatusAvatarProcessing, false},
	}
	for _, tc := range cases {
		if got := process.CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("CanTransition(%s, %s) = %v, expected %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestParseStatus(t *testing.T) {
	status, ok := process.ParseStatus(" Avatar_Processing ")
	if !ok || status != process.StatusAvatarProcessing {
		t.Fatalf("ParseStatus = %s/%v", status, ok)
	}
	if _, ok := process.ParseStatus("nonsense"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}

func TestEstimateDuration(t *testing.T) {
	if got := process.EstimateDuration("short script"); got != 15*time.Second {
		t.Fatalf("short script duration = %s, expected clamp to 15s", got)
	}

	words := make([]byte, 0, 600)
	for i := 0; i < 100; i++ {
		words = append(words, "word "...)
	}
	// 100 words: ceil(100/2.5)*1.25 = 50 seconds.
	if got := process.EstimateDuration(string(words)); got != 50*time.Second {
		t.Fatalf("100 word duration = %s, expected 50s", got)
	}

	long := make([]byte, 0, 3000)
	for i := 0; i < 500; i++ {
		long = append(long, "word "...)
	}
	if got := process.EstimateDuration(string(long)); got != 60*time.Second {
		t.Fatalf("long script duration = %s, expected clamp to 60s", got)
	}
}

package types_test

import (
	"math"
	"testing"

	"github.com/scrypster/farmmemory/pkg/types"
)

func TestMessageValidate(t *testing.T) {
	valid := types.Message{
		SessionID: "session-1",
		UserID:    "farmer-1",
		Role:      types.RoleUser,
		Content:   "My coffee leaves have orange spots",
	}

	tests := []struct {
		name    string
		mutate  func(m *types.Message)
		wantErr bool
	}{
		{name: "valid user message", mutate: func(m *types.Message) {}},
		{name: "valid assistant message", mutate: func(m *types.Message) { m.Role = types.RoleAssistant }},
		{name: "missing session", mutate: func(m *types.Message) { m.SessionID = " " }, wantErr: true},
		{name: "missing user", mutate: func(m *types.Message) { m.UserID = "" }, wantErr: true},
		{name: "unknown role", mutate: func(m *types.Message) { m.Role = "system" }, wantErr: true},
		{name: "blank content", mutate: func(m *types.Message) { m.Content = "\n\t" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestClamp01(t *testing.T) {
	cases := map[float64]float64{
		-0.5: 0,
		0:    0,
		0.42: 0.42,
		1:    1,
		1.7:  1,
	}
	for in, want := range cases {
		if got := types.Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
	if got := types.Clamp01(math.NaN()); got != 0 {
		t.Errorf("Clamp01(NaN) = %v, want 0", got)
	}
}

func TestEmptyContextHasNonNilSlices(t *testing.T) {
	ctx := types.EmptyContext()
	if ctx.RelevantMemories == nil || len(ctx.RelevantMemories) != 0 {
		t.Errorf("RelevantMemories: got %v, want empty non-nil slice", ctx.RelevantMemories)
	}
	if ctx.Insights == nil || len(ctx.Insights) != 0 {
		t.Errorf("Insights: got %v, want empty non-nil slice", ctx.Insights)
	}
	if ctx.Confidence != 0 {
		t.Errorf("Confidence: got %v, want 0", ctx.Confidence)
	}
}

package firebase

import "testing"

func TestChunkTokens(t *testing.T) {
	tokens := make([]string, 1203)
	for i := range tokens {
		tokens[i] = "tok"
	}

	tests := []struct {
		name string
		in   []string
		size int
		want []int
	}{
		{"empty", nil, 500, nil},
		{"single batch", tokens[:3], 500, []int{3}},
		{"exact limit", tokens[:500], 500, []int{500}},
		{"several batches", tokens, 500, []int{500, 500, 203}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkTokens(tt.in, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(got), len(tt.want))
			}
			for i, c := range got {
				if len(c) != tt.want[i] {
					t.Errorf("chunk %d has %d tokens, want %d", i, len(c), tt.want[i])
				}
			}
		})
	}
}

func TestApnsFor(t *testing.T) {
	if apnsFor(nil) != nil {
		t.Error("no route should mean no APNS override")
	}
	cfg := apnsFor(map[string]string{"route": "unmatched"})
	if cfg == nil || cfg.Payload.Aps.ThreadID != "unmatched" {
		t.Errorf("apnsFor() = %+v, want thread id from route", cfg)
	}
}

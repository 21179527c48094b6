package flagx

import (
	"reflect"
	"testing"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "separate flag and value",
			args:    []string{"-p", "5001", "-x", "nope"},
			allowed: []string{"-p"},
			want:    []string{"-p", "5001"},
		},
		{
			name:    "equals form",
			args:    []string{"--secret=abc", "--other=zzz"},
			allowed: []string{"--secret"},
			want:    []string{"--secret=abc"},
		},
		{
			name:    "flag without value followed by another flag",
			args:    []string{"-e", "-p", "5001"},
			allowed: []string{"-e"},
			want:    []string{"-e"},
		},
		{
			name:    "nothing allowed",
			args:    []string{"-a", "1"},
			allowed: []string{},
			want:    []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FilterArgs(tc.args, tc.allowed)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("FilterArgs() = %v, want %v", got, tc.want)
			}
		})
	}
}

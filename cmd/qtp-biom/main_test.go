package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitMigrateArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		actions []string
		flags   []string
	}{
		{
			name:    "action only",
			args:    []string{"up"},
			actions: []string{"up"},
		},
		{
			name:    "action with db flag",
			args:    []string{"up", "-db", "history.db"},
			actions: []string{"up"},
			flags:   []string{"-db", "history.db"},
		},
		{
			name:    "force takes a version before the flags",
			args:    []string{"force", "2", "-db", "history.db"},
			actions: []string{"force", "2"},
			flags:   []string{"-db", "history.db"},
		},
		{
			name:  "flags only",
			args:  []string{"-db", "history.db"},
			flags: []string{"-db", "history.db"},
		},
		{
			name: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			actions, flags := splitMigrateArgs(tt.args)
			assert.Equal(t, tt.actions, actions)
			if len(tt.flags) == 0 {
				assert.Empty(t, flags)
			} else {
				assert.Equal(t, tt.flags, flags)
			}
		})
	}
}

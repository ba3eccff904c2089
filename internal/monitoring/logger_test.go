package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("job %s done", "abc")
	assert.Equal(t, "job abc done", got)

	// nil installs a no-op, never a nil func
	SetLogger(nil)
	require.NotNil(t, Logf)
	assert.NotPanics(t, func() { Logf("dropped") })
}

func TestLogfDefault(t *testing.T) {
	require.NotNil(t, Logf)
	assert.NotPanics(t, func() { Logf("message: %s", "value") })
}

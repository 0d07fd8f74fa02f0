package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitProfiles(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	require.NoError(t, Init("debug", "console"))
	assert.NotNil(t, CLILogger)

	require.NoError(t, Init("info", "structured"))
	require.NoError(t, Init("warn", ""))
}

func TestInitRejectsBadInput(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	assert.Error(t, Init("verbose", "console"))
	assert.Error(t, Init("info", "plaintext"))
}

package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	e := NewExecutor()
	vars := e.BuildVars("example.com", "/certs/example.com", "c", "k", "ch", "fc")

	got := e.Expand("cp ${FULLCHAIN_FILE} ${CERT_DIR}/x ${UNKNOWN}", vars)
	assert.Equal(t, "cp fc /certs/example.com/x ${UNKNOWN}", got)
}

func TestRunPostCommandEnv(t *testing.T) {
	dir := t.TempDir()
	e := NewExecutor()
	vars := e.BuildVars("example.com", dir, "", "", "", "")

	require.NoError(t, e.RunPostCommand(context.Background(), `printf "%s" "$DOMAIN" > ${CERT_DIR}/domain`, vars))

	data, err := os.ReadFile(filepath.Join(dir, "domain"))
	require.NoError(t, err)
	assert.Equal(t, "example.com", string(data))
}

func TestRunPostCommandFailure(t *testing.T) {
	e := NewExecutor()
	assert.NoError(t, e.RunPostCommand(context.Background(), "  ", nil))
	assert.Error(t, e.RunPostCommand(context.Background(), "exit 3", nil))
}

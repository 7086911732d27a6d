package layers

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testLayer(id string) Layer {
	return Layer{
		ID:          id,
		Name:        "Layer " + id,
		Description: "test layer",
		Version:     "1.0.0",
	}
}

// writeLayerDir creates dir with a manifest for layer plus the given extra files
func writeLayerDir(t *testing.T, dir string, layer Layer, files map[string]string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, SaveManifest(&layer, dir))
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

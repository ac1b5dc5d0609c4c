package runtime

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "root.txt"), []byte("r"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "deep.txt"), []byte("d"), 0o644))

	reader, err := tarDirectory(dir)
	require.NoError(t, err)

	var names []string
	contents := map[string]string{}
	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			contents[hdr.Name] = string(data)
		}
	}
	sort.Strings(names)

	assert.Equal(t, []string{"a", "a/b", "a/b/deep.txt", "root.txt"}, names)
	assert.Equal(t, "r", contents["root.txt"])
	assert.Equal(t, "d", contents["a/b/deep.txt"])
}

func TestTarDirectory_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err := tarDirectory(file)
	assert.Error(t, err)
}

func TestEnvToSlice(t *testing.T) {
	assert.Nil(t, envToSlice(nil))
	out := envToSlice(map[string]string{"A": "1", "B": "2"})
	sort.Strings(out)
	assert.Equal(t, []string{"A=1", "B=2"}, out)
}

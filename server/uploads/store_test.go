package uploads

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"report.pdf":            "report.pdf",
		"../../etc/passwd":      "passwd",
		"/abs/path/file.txt":    "file.txt",
		`C:\Users\bob\notes.md`: "notes.md",
		`..\..\boot.ini`:        "boot.ini",
		"dir/":                  "dir",
		"spaces in name.txt":    "spaces in name.txt",
	}
	for in, want := range cases {
		got, err := Sanitize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", ".", "..", "/", "a/..", "x\x00y", ManifestName, tempPrefix + "abc.part"} {
		_, err := Sanitize(bad)
		assert.ErrorIs(t, err, ErrInvalidFilename, "%q", bad)
	}
}

// A sanitized name never contains a separator and always stays inside dir.
func TestSanitizeStaysInDir_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(rapid.SampledFrom([]string{"..", ".", "a", "b.txt", "", "x y"}), 1, 6).Draw(t, "parts")
		sep := rapid.SampledFrom([]string{"/", `\`}).Draw(t, "sep")
		name := ""
		for i, p := range parts {
			if i > 0 {
				name += sep
			}
			name += p
		}

		base, err := Sanitize(name)
		if err != nil {
			return
		}
		dir := "/srv/uploads"
		joined := filepath.Join(dir, base)
		if filepath.Dir(joined) != dir {
			t.Fatalf("%q escaped to %q", name, joined)
		}
	})
}

func TestStore_CommitWritesFileAndManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	store := New(dir, true, zerolog.Nop())

	up, err := store.Create("../secret/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", up.Name())

	_, err = up.Write([]byte("hello"))
	require.NoError(t, err)

	dst, err := up.Commit(Record{Size: 5, Sender: "alice", Remote: "127.0.0.1:5000", DurationMs: 3})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "hello.txt"), dst)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hello.txt", records[0].Filename)
	assert.Equal(t, int64(5), records[0].Size)
	assert.Equal(t, "alice", records[0].Sender)
	assert.False(t, records[0].ReceivedAt.IsZero())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only the file and the manifest should remain")
}

func TestStore_LastWriterWins(t *testing.T) {
	store := New(t.TempDir(), false, zerolog.Nop())

	for _, content := range []string{"first", "second"} {
		up, err := store.Create("same.txt")
		require.NoError(t, err)
		_, err = up.Write([]byte(content))
		require.NoError(t, err)
		_, err = up.Commit(Record{Size: int64(len(content))})
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(store.Dir(), "same.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	records, err := store.Records()
	require.NoError(t, err)
	assert.Empty(t, records, "manifest disabled")
}

func TestStore_AbortKeepsExistingFile(t *testing.T) {
	store := New(t.TempDir(), true, zerolog.Nop())
	existing := filepath.Join(store.Dir(), "keep.txt")
	require.NoError(t, os.WriteFile(existing, []byte("original"), 0644))

	up, err := store.Create("keep.txt")
	require.NoError(t, err)
	_, err = up.Write([]byte("partial"))
	require.NoError(t, err)
	up.Abort()

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_CreateRejectsInvalidName(t *testing.T) {
	store := New(t.TempDir(), true, zerolog.Nop())
	_, err := store.Create("..")
	assert.ErrorIs(t, err, ErrInvalidFilename)
}

package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/kdomanski/iso9660"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wimInfoOutput = `WIM Information:
----------------
Path:           /work/install.wim
GUID:           0x4c2f2b0a0e0f4c3e9a3d7e5f6a7b8c9d
Version:        68864
Image Count:    2
Compression:    LZX
Chunk Size:     32768 bytes
Part Number:    1/1
Boot Index:     0
Size:           5032345212 bytes
Attributes:     Relative path junction

Available Images:
-----------------
Index:                  1
Name:                   Windows 11 Home
Description:            Windows 11 Home
Display Name:           Windows 11 Home
Edition ID:             Core
Architecture:           x86_64
Build:                  26100
Service Pack Build:     1742
Service Pack Level:     0

Index:                  2
Name:                   Windows 11 Pro
Edition ID:             Professional
Architecture:           x86_64
Build:                  26100
Service Pack Build:     1742
`

func writeISO(t *testing.T, files map[string][]byte) string {
	t.Helper()

	writer, err := iso9660.NewWriter()
	require.NoError(t, err)
	defer writer.Cleanup()

	for name, content := range files {
		require.NoError(t, writer.AddFile(bytes.NewReader(content), name))
	}

	path := filepath.Join(t.TempDir(), "test.iso")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, writer.WriteTo(out, "UUPISO"))
	require.NoError(t, out.Close())
	return path
}

func TestSha256sum(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sum, err := Sha256sum(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	_, err = Sha256sum(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	wim := bytes.Repeat([]byte("w"), 4096)
	path := writeISO(t, map[string][]byte{
		"sources/install.wim": wim,
		"setup.exe":           []byte("mz"),
	})

	payload, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, Payload{Path: "sources/install.wim", Size: int64(len(wim))}, payload)

	dest := t.TempDir()
	extracted, err := ExtractPayload(path, dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "install.wim"), extracted)
	content, err := os.ReadFile(extracted)
	require.NoError(t, err)
	assert.Equal(t, wim, content)
}

func TestInspectESD(t *testing.T) {
	t.Parallel()

	path := writeISO(t, map[string][]byte{"sources/install.esd": []byte("esd")})
	payload, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, "sources/install.esd", payload.Path)
}

func TestInspectWithoutInstallImage(t *testing.T) {
	t.Parallel()

	path := writeISO(t, map[string][]byte{"sources/boot.wim": []byte("boot")})
	_, err := Inspect(path)
	assert.True(t, errors.Is(err, ErrNoInstallImage))

	_, err = Inspect(filepath.Join(t.TempDir(), "missing.iso"))
	assert.Error(t, err)
}

func TestInspectPlaceholderTree(t *testing.T) {
	t.Parallel()

	// UDF-only images expose nothing but a readme through ISO 9660.
	path := writeISO(t, map[string][]byte{"README.TXT": []byte("This disc contains a UDF file system.")})
	_, err := Inspect(path)
	assert.True(t, errors.Is(err, ErrNoInstallImage))

	_, err = ExtractPayload(path, t.TempDir())
	assert.True(t, errors.Is(err, ErrNoInstallImage))

	notISO := filepath.Join(t.TempDir(), "garbage.iso")
	require.NoError(t, os.WriteFile(notISO, bytes.Repeat([]byte{0}, 64*1024), 0o644))
	_, err = Inspect(notISO)
	assert.True(t, errors.Is(err, ErrNoInstallImage))
}

type fakeEntry struct {
	name string
	dir  bool
	size int64
}

func (e fakeEntry) Name() string { return e.name }
func (e fakeEntry) IsDir() bool  { return e.dir }
func (e fakeEntry) Size() int64  { return e.size }

func TestMatchingEntriesKeepsEveryExtent(t *testing.T) {
	t.Parallel()

	entries := []fakeEntry{
		{name: "BOOT.WIM;1", size: 10},
		{name: "INSTALL.WIM;1", size: 4294965248},
		{name: "INSTALL.WIM;1", size: 1500000000},
		{name: "install.wim", dir: true},
		{name: "SETUP.EXE;1", size: 3},
	}

	matched := matchingEntries(entries, "install.wim", false)
	require.Len(t, matched, 2)
	assert.Equal(t, int64(4294965248), matched[0].size)
	assert.Equal(t, int64(1500000000), matched[1].size)
	assert.Equal(t, int64(5794965248), totalSize(matched))

	assert.Empty(t, matchingEntries(entries, "install.esd", false))
	assert.Len(t, matchingEntries(entries, "INSTALL.WIM", true), 1)
}

func TestParseImageInfo(t *testing.T) {
	t.Parallel()

	images, err := ParseImageInfo(wimInfoOutput)
	require.NoError(t, err)

	want := []ImageInfo{
		{Index: 1, Name: "Windows 11 Home", EditionID: "Core", Architecture: "x86_64", Build: "26100.1742"},
		{Index: 2, Name: "Windows 11 Pro", EditionID: "Professional", Architecture: "x86_64", Build: "26100.1742"},
	}
	if diff := cmp.Diff(want, images); diff != "" {
		t.Fatalf("ParseImageInfo mismatch (-want +got):\n%s", diff)
	}
}

func TestImageLister(t *testing.T) {
	t.Parallel()

	var gotArgs []string
	lister := &ImageLister{
		Output: func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = append([]string{name}, args...)
			return []byte(wimInfoOutput), nil
		},
	}

	images, err := lister.List(context.Background(), "/work/install.wim")
	require.NoError(t, err)
	assert.Len(t, images, 2)
	assert.Equal(t, []string{DefaultImageTool, "info", "/work/install.wim"}, gotArgs)

	empty := &ImageLister{Output: func(context.Context, string, ...string) ([]byte, error) {
		return []byte("WIM Information:\nImage Count: 0\n"), nil
	}}
	_, err = empty.List(context.Background(), "x.wim")
	assert.Error(t, err)

	failing := &ImageLister{Binary: "wimlib", Output: func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}}
	_, err = failing.List(context.Background(), "x.wim")
	assert.ErrorContains(t, err, "wimlib info x.wim")
}

func TestCheckBuild(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		images   []ImageInfo
		selected string
		wantErr  error
	}{
		{"same build", []ImageInfo{{Index: 1, Build: "26100.1742"}}, "26100.1742", nil},
		{"newer revision", []ImageInfo{{Index: 1, Build: "26100.2033"}}, "26100.1742", nil},
		{"other build", []ImageInfo{{Index: 1, Build: "26100.1"}, {Index: 2, Build: "22631.4169"}}, "26100.1742", ErrBuildMismatch},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := CheckBuild(tc.images, tc.selected)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}

	assert.Error(t, CheckBuild(nil, "26100.1"))
	assert.Error(t, CheckBuild([]ImageInfo{{Index: 1, Build: "26100"}}, "not-a-build"))
}

func TestLocalStorePublish(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	isoPath := filepath.Join(work, "26100.1742_PROFESSIONAL_X64_EN-US.ISO")
	require.NoError(t, os.WriteFile(isoPath, []byte("iso"), 0o644))

	created := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	store := &LocalStore{BaseDir: filepath.Join(t.TempDir(), "isos"), Now: func() time.Time { return created }}

	metadata := Metadata{
		Target: "windows-11",
		Build:  "26100.1742",
		SHA256: "abc123",
		Images: []ImageInfo{{Index: 1, Name: "Windows 11 Pro", Build: "26100.1742"}},
	}
	published, err := store.Publish(isoPath, "windows-11_26100.1742", metadata)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(store.BaseDir, "windows-11_26100.1742.iso"), published.ISO)
	assert.NoFileExists(t, isoPath)
	assert.FileExists(t, published.ISO)

	checksum, err := os.ReadFile(published.Checksum)
	require.NoError(t, err)
	assert.Equal(t, "abc123 *windows-11_26100.1742.iso\n", string(checksum))
	assert.True(t, strings.HasSuffix(published.Checksum, ".iso.sha256.txt"))

	raw, err := os.ReadFile(published.Metadata)
	require.NoError(t, err)
	var stored Metadata
	require.NoError(t, json.Unmarshal(raw, &stored))
	_, err = uuid.Parse(stored.RunID)
	assert.NoError(t, err)
	assert.Equal(t, created, stored.CreatedAt)
	assert.Equal(t, metadata.Images, stored.Images)

	require.NoError(t, os.WriteFile(isoPath, []byte("iso"), 0o644))
	_, err = store.Publish(isoPath, "windows-11_26100.1742", metadata)
	assert.True(t, errors.Is(err, ErrAlreadyPublished))

	require.NoError(t, store.Remove("windows-11_26100.1742"))
	assert.NoFileExists(t, published.ISO)
	assert.NoFileExists(t, published.Checksum)
	assert.NoFileExists(t, published.Metadata)
}

func TestLocalStorePublishFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	store := &LocalStore{BaseDir: t.TempDir()}
	_, err := store.Publish(filepath.Join(t.TempDir(), "missing.iso"), "name", Metadata{SHA256: "x"})
	require.Error(t, err)

	entries, err := os.ReadDir(store.BaseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = store.Publish("a.iso", "../escape", Metadata{SHA256: "x"})
	assert.Error(t, err)
	_, err = store.Publish("a.iso", "name", Metadata{})
	assert.Error(t, err)
}

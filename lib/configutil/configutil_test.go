package configutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type siteConfig struct {
	BaseUrl  string            `json:"base_url"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Window   int               `json:"window"`
	Headers  map[string]string `json:"headers"`
}

func (c siteConfig) Validate() error {
	if c.BaseUrl == "" {
		return errors.New("base_url is required")
	}
	return nil
}

func write(t *testing.T, path, contents string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0777))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
}

func TestLocalPath(t *testing.T) {
	require.Equal(t, "config.local.json5", LocalPath("config.json5"))
	require.Equal(t, "/a/b/site.local.json5", LocalPath("/a/b/site.json5"))
	require.Equal(t, "noext.local", LocalPath("noext"))
}

func TestReadConfigMergesLocalOverrides(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "site.json5"), `{
		// comments and trailing commas are fine
		base_url: "https://bank.example",
		username: "someone",
		window: 30,
	}`)
	write(t, filepath.Join(dir, "site.local.json5"), `{
		password: "hunter2",
		window: 90,
	}`)

	cfg, err := ReadConfig[siteConfig](filepath.Join(dir, "site.json5"))
	require.NoError(t, err)
	require.Equal(t, siteConfig{
		BaseUrl:  "https://bank.example",
		Username: "someone",
		Password: "hunter2",
		Window:   90,
	}, cfg)
}

func TestReadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadConfig[siteConfig](filepath.Join(dir, "missing.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)

	write(t, filepath.Join(dir, "broken.json5"), `{ base_url: `)
	_, err = ReadConfig[siteConfig](filepath.Join(dir, "broken.json5"))
	require.Error(t, err)
	require.NotErrorIs(t, err, os.ErrNotExist)

	write(t, filepath.Join(dir, "invalid.json5"), `{ username: "someone" }`)
	_, err = ReadConfig[siteConfig](filepath.Join(dir, "invalid.json5"))
	require.ErrorContains(t, err, "base_url is required")
}

func TestReadRecursively(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "site.json5"), `{ base_url: "https://found.example" }`)
	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0777))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := ReadRecursively[siteConfig]("site.json5")
	require.NoError(t, err)
	require.Equal(t, "https://found.example", cfg.BaseUrl)

	_, err = ReadRecursively[siteConfig]("nowhere-to-be-found.json5")
	require.ErrorIs(t, err, os.ErrNotExist)
}

package embedconf

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedDownloaderJSON(t *testing.T) {
	in := `{"provider":"youtube","exec":"yt-dlp \"{embed.url}\"","format":"best","retries":3,"unused":null}`

	var dl EmbedDownloader
	require.NoError(t, json.Unmarshal([]byte(in), &dl))
	assert.Equal(t, "youtube", dl.Provider)
	assert.Equal(t, []Field{
		{Key: "exec", Value: `yt-dlp "{embed.url}"`},
		{Key: "format", Value: "best"},
		{Key: "retries", Value: "3"},
	}, dl.Fields)

	out, err := json.Marshal(dl)
	require.NoError(t, err)
	assert.Equal(t, `{"provider":"youtube","exec":"yt-dlp \"{embed.url}\"","format":"best","retries":"3"}`, string(out))
}

func TestEmbedDownloaderJSONRejectsNested(t *testing.T) {
	var dl EmbedDownloader
	err := json.Unmarshal([]byte(`{"provider":"x","exec":{"a":1}}`), &dl)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`["provider"]`), &dl)
	assert.Error(t, err)
}

func TestSettingsJSONDefaults(t *testing.T) {
	out, err := json.Marshal(Defaults())
	require.NoError(t, err)
	assert.JSONEq(t, `{"cookie":"","embedDownloaders":[],"include":{},"outDir":null}`, string(out))
}

func TestLoadAndSave(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		s, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, Defaults(), s)
	})

	t.Run("save then load", func(t *testing.T) {
		dir := t.TempDir()
		err := Save(dir, Settings{
			Cookie:  "session=abc",
			Include: map[string]string{"posts.with.media.type": "attachment"},
		})
		require.NoError(t, err)

		content, err := os.ReadFile(filepath.Join(dir, FileName))
		require.NoError(t, err)
		assert.Contains(t, string(content), "[downloader]")
		assert.Contains(t, string(content), "cookie = session=abc")
		assert.Contains(t, string(content), "[include]")
		assert.Contains(t, string(content), "posts.with.media.type = attachment")

		s, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "session=abc", s.Cookie)
		assert.Equal(t, "attachment", s.Include["posts.with.media.type"])

		matches, err := filepath.Glob(filepath.Join(dir, ".embed.conf-*"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("unrepresentable settings are not written", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, Save(dir, Settings{Cookie: "keep"}))

		err := Save(dir, Settings{Include: map[string]string{"a=b": "x"}})
		require.ErrorIs(t, err, ErrUnrepresentable)

		s, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "keep", s.Cookie)
		assert.Empty(t, s.Include)
	})
}

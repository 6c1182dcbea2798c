package embedconf

import (
	"encoding/json"
	"strings"
)

// Options is the option set handed to the external downloader.
type Options struct {
	OutDir           string                   `json:"outDir"`
	UseStatusCache   bool                     `json:"useStatusCache"`
	FileExistsAction FileExistsAction         `json:"fileExistsAction"`
	Cookie           string                   `json:"cookie,omitempty"`
	Include          *IncludeOptions          `json:"include,omitempty"`
	EmbedDownloaders []EmbedDownloaderCommand `json:"embedDownloaders,omitempty"`
}

// FileExistsAction tells the downloader what to do with files already on disk.
type FileExistsAction struct {
	Info    string `json:"info"`
	InfoAPI string `json:"infoAPI"`
	Content string `json:"content"`
}

// IncludeOptions are the content filters. Nil fields are left to the
// downloader's defaults.
type IncludeOptions struct {
	PostsWithMediaType *MediaTypeFilter `json:"postsWithMediaType,omitempty"`
	LockedContent      *bool            `json:"lockedContent,omitempty"`
	PreviewMedia       *bool            `json:"previewMedia,omitempty"`
	Comments           *bool            `json:"comments,omitempty"`
}

// MediaTypeFilter is either the sentinel "any"/"none" or a list of media types.
type MediaTypeFilter struct {
	Sentinel string
	Types    []string
}

func (f MediaTypeFilter) MarshalJSON() ([]byte, error) {
	if f.Sentinel != "" {
		return json.Marshal(f.Sentinel)
	}
	types := f.Types
	if types == nil {
		types = []string{}
	}
	return json.Marshal(types)
}

// EmbedDownloaderCommand is the provider command passed through to the
// downloader. Exec keeps its {dest.dir} and {embed.url} placeholders for the
// downloader to substitute.
type EmbedDownloaderCommand struct {
	Provider string `json:"provider"`
	Exec     string `json:"exec"`
}

// ToOptions translates settings into downloader options writing into outDir.
func ToOptions(s Settings, outDir string) Options {
	opts := Options{
		OutDir:         outDir,
		UseStatusCache: true,
		FileExistsAction: FileExistsAction{
			Info:    "overwrite",
			InfoAPI: "overwrite",
			Content: "skip",
		},
		Cookie: s.Cookie,
	}

	include := IncludeOptions{}
	hasInclude := false

	if val := s.Include["posts.with.media.type"]; val != "" {
		hasInclude = true
		if val == "any" || val == "none" {
			include.PostsWithMediaType = &MediaTypeFilter{Sentinel: val}
		} else {
			include.PostsWithMediaType = &MediaTypeFilter{Types: splitList(val)}
		}
	}
	if b, ok := includeFlag(s.Include, "locked.content"); ok {
		include.LockedContent, hasInclude = b, true
	}
	if b, ok := includeFlag(s.Include, "preview.media"); ok {
		include.PreviewMedia, hasInclude = b, true
	}
	if b, ok := includeFlag(s.Include, "comments"); ok {
		include.Comments, hasInclude = b, true
	}
	if hasInclude {
		opts.Include = &include
	}

	for _, dl := range s.EmbedDownloaders {
		opts.EmbedDownloaders = append(opts.EmbedDownloaders, EmbedDownloaderCommand{
			Provider: dl.Provider,
			Exec:     dl.Exec(),
		})
	}

	return opts
}

// includeFlag reports a boolean filter, true unless the value is "false".
func includeFlag(include map[string]string, key string) (*bool, bool) {
	val, ok := include[key]
	if !ok {
		return nil, false
	}
	b := strings.TrimSpace(val) != "false"
	return &b, true
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

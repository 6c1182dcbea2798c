package embedconf

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	sectionDownloader      = "downloader"
	sectionInclude         = "include"
	sectionEmbedDownloader = "embed.downloader."
)

// Parse reads embed.conf content. It never fails: malformed lines and
// unknown sections are skipped.
func Parse(content string) Settings {
	result := Defaults()
	section := ""

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if len(line) > 2 && strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}

		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		switch {
		case section == sectionDownloader:
			switch key {
			case "cookie":
				result.Cookie = value
			case "out.dir":
				dir := value
				result.OutDir = &dir
			}
		case strings.HasPrefix(section, sectionEmbedDownloader):
			if key == "provider" {
				continue
			}
			entry := result.downloader(strings.TrimPrefix(section, sectionEmbedDownloader))
			entry.Set(key, value)
		case section == sectionInclude:
			result.Include[key] = value
		}
	}

	return result
}

// downloader returns the entry for provider, appending one on first sight.
func (s *Settings) downloader(provider string) *EmbedDownloader {
	for i := range s.EmbedDownloaders {
		if s.EmbedDownloaders[i].Provider == provider {
			return &s.EmbedDownloaders[i]
		}
	}
	s.EmbedDownloaders = append(s.EmbedDownloaders, EmbedDownloader{Provider: provider})
	return &s.EmbedDownloaders[len(s.EmbedDownloaders)-1]
}

// Serialize renders settings as embed.conf content: embed downloader
// sections, then [downloader], then [include] when it has entries.
func Serialize(s Settings) string {
	var lines []string

	for _, dl := range s.EmbedDownloaders {
		lines = append(lines, "["+sectionEmbedDownloader+dl.Provider+"]")
		for _, f := range dl.Fields {
			if f.Key == "provider" {
				continue
			}
			lines = append(lines, directive(f.Key, f.Value))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "["+sectionDownloader+"]")
	if s.Cookie != "" {
		lines = append(lines, directive("cookie", s.Cookie))
	}
	if s.OutDir != nil && *s.OutDir != "" {
		lines = append(lines, directive("out.dir", *s.OutDir))
	}
	lines = append(lines, "")

	if len(s.Include) > 0 {
		keys := make([]string, 0, len(s.Include))
		for k := range s.Include {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		lines = append(lines, "["+sectionInclude+"]")
		for _, k := range keys {
			lines = append(lines, directive(k, s.Include[k]))
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}

var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

func directive(key, value string) string {
	return lineBreaks.Replace(key) + " = " + lineBreaks.Replace(value)
}

// ErrUnrepresentable marks settings that embed.conf cannot hold.
var ErrUnrepresentable = errors.New("setting cannot be stored in " + FileName)

// Validate reports settings that would not read back unchanged after
// Serialize and Parse.
func Validate(s Settings) error {
	seen := make(map[string]bool, len(s.EmbedDownloaders))
	for _, dl := range s.EmbedDownloaders {
		p := dl.Provider
		if p == "" || p != strings.TrimSpace(p) || strings.ContainsAny(p, "\r\n") {
			return fmt.Errorf("%w: embed downloader provider %q", ErrUnrepresentable, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: duplicate embed downloader provider %q", ErrUnrepresentable, p)
		}
		seen[p] = true
		for _, f := range dl.Fields {
			if err := validKey(f.Key); err != nil {
				return fmt.Errorf("%w: %s field %q: %v", ErrUnrepresentable, p, f.Key, err)
			}
		}
	}
	for k := range s.Include {
		if err := validKey(k); err != nil {
			return fmt.Errorf("%w: include key %q: %v", ErrUnrepresentable, k, err)
		}
	}
	return nil
}

func validKey(key string) error {
	switch {
	case key == "":
		return errors.New("empty key")
	case key != strings.TrimSpace(key):
		return errors.New("surrounding whitespace")
	case strings.ContainsAny(key, "=\r\n"):
		return errors.New("contains '=' or a line break")
	case strings.HasPrefix(key, "#"), strings.HasPrefix(key, ";"), strings.HasPrefix(key, "["):
		return errors.New("reads as a comment or section header")
	}
	return nil
}

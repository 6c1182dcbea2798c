// Package embedconf reads and writes embed.conf, the INI-style settings file
// shared with the external downloader, and translates it into downloader
// options.
package embedconf

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FileName is the settings file name inside the data directory.
const FileName = "embed.conf"

// Settings is the structured form of embed.conf.
type Settings struct {
	Cookie           string            `json:"cookie"`
	EmbedDownloaders []EmbedDownloader `json:"embedDownloaders"`
	Include          map[string]string `json:"include"`
	OutDir           *string           `json:"outDir"`
}

// Field is one key/value directive of an embed downloader section.
type Field struct {
	Key   string
	Value string
}

// EmbedDownloader is the command configuration for one embed provider.
// Fields keeps directive order so arbitrary keys survive a round trip.
type EmbedDownloader struct {
	Provider string
	Fields   []Field
}

// Defaults returns the settings produced by an empty embed.conf.
func Defaults() Settings {
	return Settings{
		EmbedDownloaders: []EmbedDownloader{},
		Include:          map[string]string{},
	}
}

// Get returns the value of key and whether it is set.
func (d *EmbedDownloader) Get(key string) (string, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set updates key in place or appends it.
func (d *EmbedDownloader) Set(key, value string) {
	for i := range d.Fields {
		if d.Fields[i].Key == key {
			d.Fields[i].Value = value
			return
		}
	}
	d.Fields = append(d.Fields, Field{Key: key, Value: value})
}

// Exec returns the command template of the provider.
func (d *EmbedDownloader) Exec() string {
	v, _ := d.Get("exec")
	return v
}

// MarshalJSON encodes the downloader as a flat object with provider first
// and the remaining fields in directive order.
func (d EmbedDownloader) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writePair := func(key, value string) error {
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}
	if err := writePair("provider", d.Provider); err != nil {
		return nil, err
	}
	for _, f := range d.Fields {
		if f.Key == "provider" {
			continue
		}
		buf.WriteByte(',')
		if err := writePair(f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat object, keeping key order. Null values are
// dropped and other scalars are stored in their textual form.
func (d *EmbedDownloader) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("embed downloader must be an object")
	}

	out := EmbedDownloader{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		value, keep, err := scalarString(raw)
		if err != nil {
			return fmt.Errorf("embed downloader field %q: %w", key, err)
		}
		if !keep {
			continue
		}
		if key == "provider" {
			out.Provider = value
			continue
		}
		out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*d = out
	return nil
}

func scalarString(raw json.RawMessage) (string, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false, nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case '{', '[':
		return "", false, fmt.Errorf("nested values are not supported")
	default:
		return string(trimmed), true, nil
	}
}

// Package events holds the vocabulary shared by the download and encode
// phases and the job state they report into.
package events

// Log entry kinds, as rendered by the progress page.
const (
	KindInfo    = "info"
	KindSuccess = "success"
	KindSkip    = "skip"
	KindWarn    = "warn"
	KindError   = "error"
)

// FileProgress is a single transfer progress sample for one file.
type FileProgress struct {
	Filename       string  `json:"filename"`
	Percent        float64 `json:"percent"`
	Speed          float64 `json:"speed"`
	SizeDownloaded int64   `json:"sizeDownloaded"`
}

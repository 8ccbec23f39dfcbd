package domain

// PanelKind names an upload slot group with its own capacity and type rules.
type PanelKind string

const (
	PanelProduct     PanelKind = "product"
	PanelLogo        PanelKind = "logo"
	PanelInspiration PanelKind = "inspiration"
)

// MediaType classifies an upload by how it decodes, not by its extension.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// UploadOrigin distinguishes local files from pasted links.
type UploadOrigin string

const (
	OriginFile UploadOrigin = "file"
	OriginURL  UploadOrigin = "url"
)

// UploadItem is one entry in a panel. PreviewURL is always renderable
// locally; RemoteURL is set only after the item survived the full
// normalize/upload/verify pipeline.
type UploadItem struct {
	ID          string
	Origin      UploadOrigin
	PreviewURL  string
	RemoteURL   string
	MediaType   MediaType
	DurationSec float64
	Uploading   bool
	Error       string
}

// Ready reports whether the item is usable as a job input.
func (it *UploadItem) Ready() bool {
	return it != nil && it.RemoteURL != "" && it.Error == "" && !it.Uploading
}

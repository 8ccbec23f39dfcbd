// Package messages owns every string the UI is allowed to show for a
// failure. Raw provider vocabulary never passes through here; callers map
// errors to a fixed code and the code to a short, non-technical sentence in
// the viewer's language.
package messages

import (
	"errors"

	"golang.org/x/text/language"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
)

// Code identifies one user-facing failure message.
type Code string

const (
	CodeCreationFailed  Code = "creation_failed"
	CodePipelineFailed  Code = "pipeline_failed"
	CodeNoResult        Code = "no_result"
	CodeUnsupportedType Code = "unsupported_type"
	CodeTooLarge        Code = "too_large"
	CodeUnreadable      Code = "unreadable_media"
	CodeBrokenLink      Code = "broken_link"
	CodeFirstFrameImage Code = "first_frame_image"
	CodeVideoTooLong    Code = "video_too_long"
	CodeAudioTooLong    Code = "audio_too_long"
	CodePanelFull       Code = "panel_full"
	CodeTimeout         Code = "timeout"
)

var supported = []language.Tag{
	language.English,
	language.Indonesian,
}

var matcher = language.NewMatcher(supported)

var catalog = map[language.Tag]map[Code]string{
	language.English: {
		CodeCreationFailed:  "Could not start the generation. Please try again.",
		CodePipelineFailed:  "The generation did not finish. Please try again.",
		CodeNoResult:        "That brief was too complicated. Try something simpler.",
		CodeUnsupportedType: "That file type is not supported.",
		CodeTooLarge:        "That file is too large.",
		CodeUnreadable:      "That file could not be read.",
		CodeBrokenLink:      "That link could not be opened.",
		CodeFirstFrameImage: "The first frame must be an image.",
		CodeVideoTooLong:    "That video is too long.",
		CodeAudioTooLong:    "That audio clip is too long.",
		CodePanelFull:       "No more items fit here.",
		CodeTimeout:         "This is taking too long. Please try again.",
	},
	language.Indonesian: {
		CodeCreationFailed:  "Gagal memulai pembuatan. Silakan coba lagi.",
		CodePipelineFailed:  "Pembuatan tidak selesai. Silakan coba lagi.",
		CodeNoResult:        "Brief terlalu rumit. Coba yang lebih sederhana.",
		CodeUnsupportedType: "Jenis file tidak didukung.",
		CodeTooLarge:        "File terlalu besar.",
		CodeUnreadable:      "File tidak dapat dibaca.",
		CodeBrokenLink:      "Tautan tidak dapat dibuka.",
		CodeFirstFrameImage: "Frame pertama harus berupa gambar.",
		CodeVideoTooLong:    "Video terlalu panjang.",
		CodeAudioTooLong:    "Klip audio terlalu panjang.",
		CodePanelFull:       "Tidak ada ruang lagi di sini.",
		CodeTimeout:         "Terlalu lama. Silakan coba lagi.",
	},
}

// For returns the message for code in the closest supported locale.
func For(locale string, code Code) string {
	tag, _ := language.MatchStrings(matcher, locale)
	base := supported[0]
	for _, t := range supported {
		if tagMatches(tag, t) {
			base = t
			break
		}
	}
	if msg, ok := catalog[base][code]; ok {
		return msg
	}
	return catalog[language.English][CodePipelineFailed]
}

// ForError maps a domain error to its fixed message. Unknown errors fall
// back to the generic pipeline failure so internals never leak.
func ForError(locale string, err error) string {
	switch {
	case errors.Is(err, domain.ErrCreationFailed):
		return For(locale, CodeCreationFailed)
	case errors.Is(err, domain.ErrNoResult):
		return For(locale, CodeNoResult)
	case errors.Is(err, domain.ErrUnsupportedMedia):
		return For(locale, CodeUnsupportedType)
	case errors.Is(err, domain.ErrMediaTooLarge):
		return For(locale, CodeTooLarge)
	case errors.Is(err, domain.ErrMediaUnreadable):
		return For(locale, CodeUnreadable)
	case errors.Is(err, domain.ErrBrokenLink):
		return For(locale, CodeBrokenLink)
	case errors.Is(err, domain.ErrPanelFull):
		return For(locale, CodePanelFull)
	case errors.Is(err, domain.ErrJobTimeout):
		return For(locale, CodeTimeout)
	default:
		return For(locale, CodePipelineFailed)
	}
}

func tagMatches(got, want language.Tag) bool {
	base1, _ := got.Base()
	base2, _ := want.Base()
	return base1 == base2
}

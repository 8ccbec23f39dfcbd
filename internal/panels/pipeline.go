package panels

import (
	"context"
	"errors"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
	"github.com/moutaamadani/mina-frontend-sub001/internal/messages"
	"github.com/moutaamadani/mina-frontend-sub001/internal/normalize"
	"github.com/moutaamadani/mina-frontend-sub001/internal/probe"
)

// processFile runs the full pipeline for a local file: normalize (images),
// fail-fast duration check (video/audio), upload, then verify against the
// stored URL before the item becomes usable.
func (m *Manager) processFile(ctx context.Context, panel domain.PanelKind, mi *managedItem, f LocalFile) {
	data := f.Data
	contentType := f.MIME
	localDuration := 0.0

	switch mi.item.MediaType {
	case domain.MediaImage:
		m.setStage(mi, stageNormalizing)
		res, err := normalize.Normalize(f.Data, f.MIME, m.normalizeCfg)
		if err != nil {
			m.evict(panel, mi, normalizeCode(err))
			return
		}
		data = res.Data
		contentType = res.MIME
		m.setStage(mi, stageUploading)
	case domain.MediaVideo, domain.MediaAudio:
		// Probe the local bytes first so an over-long clip fails before
		// any bandwidth is spent.
		dur, err := probe.DurationFromBytes(f.Data, mi.item.MediaType)
		if err != nil {
			m.evict(panel, mi, messages.CodeUnreadable)
			return
		}
		if code, ok := m.durationExceeded(mi.item.MediaType, dur); ok {
			m.evict(panel, mi, code)
			return
		}
		localDuration = dur
		m.setStage(mi, stageUploading)
	default:
		m.evict(panel, mi, messages.CodeUnsupportedType)
		return
	}

	storedURL, err := m.store.UploadLocal(ctx, data, f.Name, contentType, string(panel))
	if err != nil {
		m.evict(panel, mi, messages.CodeBrokenLink)
		return
	}

	m.setStage(mi, stageVerifying)
	if err := m.verifyStored(ctx, panel, mi, storedURL, localDuration); err != nil {
		return
	}
}

// processURL mirrors a pasted link into the asset store and verifies it.
func (m *Manager) processURL(ctx context.Context, panel domain.PanelKind, mi *managedItem, rawURL string) {
	m.setStage(mi, stageUploading)
	storedURL := m.store.MirrorRemote(ctx, rawURL, string(panel))
	if storedURL == "" {
		m.evict(panel, mi, messages.CodeBrokenLink)
		return
	}
	m.setStage(mi, stageVerifying)
	_ = m.verifyStored(ctx, panel, mi, storedURL, 0)
}

// verifyStored probes the stored URL. Video/audio durations are checked a
// second time here as defense against upload-time corruption.
func (m *Manager) verifyStored(ctx context.Context, panel domain.PanelKind, mi *managedItem, storedURL string, localDuration float64) error {
	result, err := m.prober.Verify(ctx, storedURL, mi.item.MediaType)
	if err != nil {
		m.evict(panel, mi, messages.CodeUnreadable)
		return errEvicted
	}
	duration := result.DurationSec
	if duration == 0 {
		duration = localDuration
	}
	if mi.item.MediaType == domain.MediaVideo || mi.item.MediaType == domain.MediaAudio {
		if code, ok := m.durationExceeded(mi.item.MediaType, duration); ok {
			m.evict(panel, mi, code)
			return errEvicted
		}
	}
	m.markReady(mi, storedURL, duration)
	return nil
}

func (m *Manager) durationExceeded(media domain.MediaType, durationSec float64) (messages.Code, bool) {
	switch media {
	case domain.MediaVideo:
		if durationSec > float64(m.maxVideoSec) {
			return messages.CodeVideoTooLong, true
		}
	case domain.MediaAudio:
		if durationSec > float64(m.maxAudioSec) {
			return messages.CodeAudioTooLong, true
		}
	}
	return "", false
}

func normalizeCode(err error) messages.Code {
	switch {
	case errors.Is(err, normalize.ErrUnsupported):
		return messages.CodeUnsupportedType
	case errors.Is(err, normalize.ErrTooBig):
		return messages.CodeTooLarge
	default:
		return messages.CodeUnreadable
	}
}

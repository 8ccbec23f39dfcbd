// Package panels owns the per-panel upload collections. Every item runs
// the same pipeline before it may be used as a job input: normalize (images
// only), hand off to remote storage, then verify the stored URL actually
// plays. Failures evict the item with one of a fixed set of user-facing
// reasons, never a raw provider error.
package panels

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/moutaamadani/mina-frontend-sub001/internal/assetstore"
	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
	"github.com/moutaamadani/mina-frontend-sub001/internal/infra"
	"github.com/moutaamadani/mina-frontend-sub001/internal/messages"
	"github.com/moutaamadani/mina-frontend-sub001/internal/normalize"
	"github.com/moutaamadani/mina-frontend-sub001/internal/probe"
)

const (
	inspirationCapacity = 4
	// noticeTTL is how long an eviction reason stays visible before it
	// auto-clears so the user can retry.
	noticeTTL = 4 * time.Second
	// maxAddBatch bounds concurrent item processing per AddFiles call.
	maxAddBatch = 4
)

// Notice is a short user-facing eviction reason.
type Notice struct {
	Panel  domain.PanelKind
	ItemID string
	Code   messages.Code
	At     time.Time
}

// LocalFile is a picked/dropped file before any processing.
type LocalFile struct {
	Name       string
	MIME       string
	Data       []byte
	PreviewURL string
}

// Options configures a Manager.
type Options struct {
	Store           *assetstore.Client
	Prober          *probe.Prober
	NormalizeCfg    normalize.Config
	Logger          *infra.Logger
	MaxVideoSeconds int
	MaxAudioSeconds int
}

type managedItem struct {
	item  *domain.UploadItem
	stage stage
}

// Manager enforces panel capacity and type rules and drives the upload
// pipeline per item. Safe for concurrent use.
type Manager struct {
	store        *assetstore.Client
	prober       *probe.Prober
	normalizeCfg normalize.Config
	logger       infra.Logger
	maxVideoSec  int
	maxAudioSec  int

	mu        sync.Mutex
	panels    map[domain.PanelKind][]*managedItem
	composite bool
	notices   []Notice
}

// NewManager constructs a Manager.
func NewManager(opts Options) *Manager {
	logger := infra.Discard()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	maxVideo := opts.MaxVideoSeconds
	if maxVideo <= 0 {
		maxVideo = 30
	}
	maxAudio := opts.MaxAudioSeconds
	if maxAudio <= 0 {
		maxAudio = 60
	}
	return &Manager{
		store:        opts.Store,
		prober:       opts.Prober,
		normalizeCfg: opts.NormalizeCfg,
		logger:       logger,
		maxVideoSec:  maxVideo,
		maxAudioSec:  maxAudio,
		panels:       map[domain.PanelKind][]*managedItem{},
	}
}

// SetCompositeMode toggles the two-slot animate mode for product and logo
// panels. Leaving composite mode trims those panels back to one item.
func (m *Manager) SetCompositeMode(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.composite = on
	if !on {
		for _, panel := range []domain.PanelKind{domain.PanelProduct, domain.PanelLogo} {
			if items := m.panels[panel]; len(items) > 1 {
				m.panels[panel] = items[:1]
			}
		}
	}
}

// AddFiles inserts and processes files. Processing runs concurrently per
// file; the returned items reflect the post-pipeline state.
func (m *Manager) AddFiles(ctx context.Context, panel domain.PanelKind, files []LocalFile) []domain.UploadItem {
	type pending struct {
		mi   *managedItem
		file LocalFile
	}
	var accepted []pending
	for _, f := range files {
		media := mediaTypeFor(f.MIME, f.Name)
		mi, err := m.admit(panel, domain.OriginFile, f.PreviewURL, media)
		if err != nil {
			continue
		}
		accepted = append(accepted, pending{mi: mi, file: f})
	}

	g := new(errgroup.Group)
	g.SetLimit(maxAddBatch)
	for _, p := range accepted {
		g.Go(func() error {
			m.processFile(ctx, panel, p.mi, p.file)
			return nil
		})
	}
	_ = g.Wait()

	items := make([]*managedItem, len(accepted))
	for i, p := range accepted {
		items[i] = p.mi
	}
	return m.snapshot(items)
}

// AddURL inserts and processes one pasted link.
func (m *Manager) AddURL(ctx context.Context, panel domain.PanelKind, rawURL string) (*domain.UploadItem, error) {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, domain.ErrBrokenLink
	}
	media := mediaTypeFor("", parsed.Path)
	mi, err := m.admit(panel, domain.OriginURL, rawURL, media)
	if err != nil {
		return nil, err
	}
	m.processURL(ctx, panel, mi, rawURL)
	snap := *mi.item
	return &snap, nil
}

// Remove deletes an item on explicit user action.
func (m *Manager) Remove(panel domain.PanelKind, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.panels[panel]
	for i, mi := range items {
		if mi.item.ID == id {
			m.panels[panel] = append(items[:i], items[i+1:]...)
			return true
		}
	}
	return false
}

// Move reorders an item within its panel. In composite mode the slot-0
// invariant (first frame must be an image) is restored by swapping back
// when the reorder violates it.
func (m *Manager) Move(panel domain.PanelKind, from, to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.panels[panel]
	if from < 0 || from >= len(items) || to < 0 || to >= len(items) {
		return fmt.Errorf("panels: move out of range")
	}
	moved := items[from]
	items = append(items[:from], items[from+1:]...)
	items = append(items[:to], append([]*managedItem{moved}, items[to:]...)...)

	if m.composite && (panel == domain.PanelProduct || panel == domain.PanelLogo) {
		if len(items) >= 2 && items[0].item.MediaType != domain.MediaImage && items[1].item.MediaType == domain.MediaImage {
			items[0], items[1] = items[1], items[0]
		}
	}
	m.panels[panel] = items
	return nil
}

// Items returns a copy of the panel's current items in order.
func (m *Manager) Items(panel domain.PanelKind) []domain.UploadItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UploadItem, 0, len(m.panels[panel]))
	for _, mi := range m.panels[panel] {
		out = append(out, *mi.item)
	}
	return out
}

// ReadyURLs returns the remote URLs of every usable item in the panel.
func (m *Manager) ReadyURLs(panel domain.PanelKind) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var urls []string
	for _, mi := range m.panels[panel] {
		if mi.item.Ready() {
			urls = append(urls, mi.item.RemoteURL)
		}
	}
	return urls
}

// Notices returns the eviction reasons still within their display window.
func (m *Manager) Notices() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-noticeTTL)
	kept := m.notices[:0]
	for _, n := range m.notices {
		if n.At.After(cutoff) {
			kept = append(kept, n)
		}
	}
	m.notices = kept
	out := make([]Notice, len(kept))
	copy(out, kept)
	return out
}

// admit applies capacity and slot rules, registering the item when it is
// allowed in.
func (m *Manager) admit(panel domain.PanelKind, origin domain.UploadOrigin, previewURL string, media domain.MediaType) (*managedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.panels[panel]
	switch panel {
	case domain.PanelInspiration:
		if media != domain.MediaImage {
			m.noticeLocked(panel, "", messages.CodeUnsupportedType)
			return nil, domain.ErrUnsupportedMedia
		}
		if len(items) >= inspirationCapacity {
			m.noticeLocked(panel, "", messages.CodePanelFull)
			return nil, domain.ErrPanelFull
		}
	case domain.PanelProduct, domain.PanelLogo:
		capacity := 1
		if m.composite {
			capacity = 2
		}
		if media != domain.MediaImage {
			if !m.composite {
				m.noticeLocked(panel, "", messages.CodeUnsupportedType)
				return nil, domain.ErrUnsupportedMedia
			}
			// Slot 1 may be video/audio, but only behind a valid image
			// in slot 0.
			if len(items) == 0 || items[0].item.MediaType != domain.MediaImage {
				m.noticeLocked(panel, "", messages.CodeFirstFrameImage)
				return nil, domain.ErrUnsupportedMedia
			}
		}
		if len(items) >= capacity {
			// Default-mode panels replace instead of rejecting.
			if capacity == 1 {
				items = items[:0]
			} else {
				items = items[:capacity-1]
			}
		}
	default:
		return nil, fmt.Errorf("panels: unknown panel %q", panel)
	}

	mi := &managedItem{
		item: &domain.UploadItem{
			ID:         uuid.NewString(),
			Origin:     origin,
			PreviewURL: previewURL,
			MediaType:  media,
			Uploading:  true,
		},
		stage: stagePending,
	}
	m.panels[panel] = append(items, mi)
	return mi, nil
}

func (m *Manager) snapshot(items []*managedItem) []domain.UploadItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UploadItem, 0, len(items))
	for _, mi := range items {
		out = append(out, *mi.item)
	}
	return out
}

func (m *Manager) noticeLocked(panel domain.PanelKind, itemID string, code messages.Code) {
	m.notices = append(m.notices, Notice{Panel: panel, ItemID: itemID, Code: code, At: time.Now()})
}

// evict removes a failed item and records its reason.
func (m *Manager) evict(panel domain.PanelKind, mi *managedItem, code messages.Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi.stage = stageEvicted
	mi.item.Uploading = false
	mi.item.Error = string(code)
	items := m.panels[panel]
	for i, cur := range items {
		if cur == mi {
			m.panels[panel] = append(items[:i], items[i+1:]...)
			break
		}
	}
	m.noticeLocked(panel, mi.item.ID, code)
	m.logger.Info().
		Str("panel", string(panel)).
		Str("item", mi.item.ID).
		Str("reason", string(code)).
		Msg("panels: item evicted")
}

func (m *Manager) setStage(mi *managedItem, to stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi.stage = mi.stage.advance(to)
}

func (m *Manager) markReady(mi *managedItem, remoteURL string, durationSec float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi.stage = mi.stage.advance(stageReady)
	mi.item.RemoteURL = remoteURL
	mi.item.DurationSec = durationSec
	mi.item.Uploading = false
}

func mediaTypeFor(mime, name string) domain.MediaType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.MediaImage
	case strings.HasPrefix(mime, "video/"):
		return domain.MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return domain.MediaAudio
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4", ".mov", ".webm", ".m4v", ".avi", ".mkv":
		return domain.MediaVideo
	case ".wav", ".mp3", ".m4a", ".aac", ".ogg", ".flac":
		return domain.MediaAudio
	default:
		return domain.MediaImage
	}
}

var errEvicted = errors.New("panels: item evicted")

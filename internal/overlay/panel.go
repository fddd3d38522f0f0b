package overlay

import (
	"sync"

	"github.com/livecap/livecap/internal/websocket"
	"github.com/livecap/livecap/pkg/logger"
)

// Broadcaster pushes overlay render state to connected UI clients.
type Broadcaster interface {
	Broadcast(message *websocket.Message)
}

// Config holds the panel geometry settings.
type Config struct {
	ViewportWidth  float64
	ViewportHeight float64
	CompactWidth   float64
	ExpandedWidth  float64
	Height         float64
	InitialX       float64
	InitialY       float64
}

// Block is one rendered subtitle line pair.
type Block struct {
	Translated string `json:"translated"`
	Original   string `json:"original"`
}

// Snapshot is the full render state of the panel, broadcast on every
// mutation so late-joining clients can reconstruct it.
type Snapshot struct {
	Live    *Block  `json:"live,omitempty"`
	History []Block `json:"history"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Compact bool    `json:"compact"`
}

// lineKeySeparator joins the dedup key halves; it cannot occur in either.
const lineKeySeparator = "\x1f"

// Panel is the overlay renderer: one live block for the in-flight utterance
// plus an append-only history list, newest entry first (directly below the
// live line). It also runs the drag and compact/expanded interaction state,
// driven by pointer messages from the UI client.
type Panel struct {
	mu  sync.Mutex
	cfg Config

	live        *Block
	history     []Block
	lastLineKey string
	lastSeq     uint64

	x, y    float64
	compact bool

	dragging    bool
	dragOffsetX float64
	dragOffsetY float64

	broadcaster Broadcaster
	logger      *logger.Logger
}

// NewPanel creates an overlay panel and announces it to clients.
func NewPanel(cfg Config, broadcaster Broadcaster, log *logger.Logger) *Panel {
	p := &Panel{
		cfg:         cfg,
		x:           cfg.InitialX,
		y:           cfg.InitialY,
		broadcaster: broadcaster,
		logger:      log.Named("overlay"),
	}
	p.mu.Lock()
	p.clampLocked()
	p.broadcastLocked()
	p.mu.Unlock()
	return p
}

// Display renders one translation result. The live block always reflects the
// newest unit; a final unit is additionally committed to history unless its
// (translated, original) pair equals the previously committed pair. Results
// carrying a sequence number lower than the last applied one are stale
// completions of earlier translation calls and are rejected.
func (p *Panel) Display(translated, original string, isFinal bool, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seq < p.lastSeq {
		p.logger.Debug("Rejecting stale translation result",
			logger.Uint64("seq", seq),
			logger.Uint64("last_seq", p.lastSeq))
		return
	}
	p.lastSeq = seq

	p.live = &Block{Translated: translated, Original: original}

	if isFinal {
		key := translated + lineKeySeparator + original
		if key != p.lastLineKey {
			p.lastLineKey = key
			p.history = append([]Block{*p.live}, p.history...)
		}
	}

	p.broadcastLocked()
}

// PointerDown enters the dragging state, capturing the pointer offset
// relative to the panel origin.
func (p *Panel) PointerDown(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dragging = true
	p.dragOffsetX = x - p.x
	p.dragOffsetY = y - p.y
}

// PointerMove repositions the panel while dragging, clamped to the viewport.
// Never suspends: drag handling must stay low-latency.
func (p *Panel) PointerMove(x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dragging {
		return
	}
	p.x = x - p.dragOffsetX
	p.y = y - p.dragOffsetY
	p.clampLocked()
	p.broadcastLocked()
}

// PointerUp exits the dragging state.
func (p *Panel) PointerUp() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dragging = false
}

// Dragging reports whether a drag is in progress.
func (p *Panel) Dragging() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dragging
}

// ToggleCompact flips the panel between compact and expanded width,
// independent of drag state.
func (p *Panel) ToggleCompact() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.compact = !p.compact
	p.clampLocked()
	p.broadcastLocked()
}

// SetViewport updates the viewport bounds (UI window resized) and re-clamps.
func (p *Panel) SetViewport(width, height float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if width <= 0 || height <= 0 {
		return
	}
	p.cfg.ViewportWidth = width
	p.cfg.ViewportHeight = height
	p.clampLocked()
	p.broadcastLocked()
}

// Snapshot returns a copy of the current render state.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Remove detaches the panel: clients are told to drop it and the dedup state
// is cleared so a future session starts clean.
func (p *Panel) Remove() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = nil
	p.history = nil
	p.lastLineKey = ""
	p.lastSeq = 0
	p.dragging = false
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(&websocket.Message{
			Type: websocket.MessageTypeOverlayRemoved,
			Data: map[string]any{},
		})
	}
}

func (p *Panel) width() float64 {
	if p.compact {
		return p.cfg.CompactWidth
	}
	return p.cfg.ExpandedWidth
}

// clampLocked keeps the panel inside [0, vw-w] x [0, vh-h].
func (p *Panel) clampLocked() {
	p.x = clamp(p.x, 0, p.cfg.ViewportWidth-p.width())
	p.y = clamp(p.y, 0, p.cfg.ViewportHeight-p.cfg.Height)
}

func (p *Panel) snapshotLocked() Snapshot {
	snap := Snapshot{
		History: make([]Block, len(p.history)),
		X:       p.x,
		Y:       p.y,
		Width:   p.width(),
		Height:  p.cfg.Height,
		Compact: p.compact,
	}
	copy(snap.History, p.history)
	if p.live != nil {
		live := *p.live
		snap.Live = &live
	}
	return snap
}

func (p *Panel) broadcastLocked() {
	if p.broadcaster == nil {
		return
	}
	snap := p.snapshotLocked()
	p.broadcaster.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeOverlayUpdate,
		Data: map[string]any{"panel": snap},
	})
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

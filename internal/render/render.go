// Package render turns transitions into Discord payloads. Each transition
// kind has one Renderer, looked up through a Registry.
package render

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/hootmeow/bf1942-map-alert/internal/delivery"
	"github.com/hootmeow/bf1942-map-alert/internal/snapshot"
	"github.com/hootmeow/bf1942-map-alert/internal/transition"
)

// Input is everything a renderer may use. Round is the finished round for a
// RoundEnded transition; PreviousRound is the round before a map change. Both
// may be nil when the stats store has not caught up.
type Input struct {
	Transition    transition.Transition
	ServerWide    bool
	Round         *snapshot.RoundSummary
	PreviousRound *snapshot.RoundSummary
}

// Renderer builds the payload for one transition kind.
type Renderer interface {
	// Kind returns the transition kind this renderer handles
	Kind() transition.Kind

	// Name returns a human-readable name for logs and the status page
	Name() string

	// Render builds the payload. It performs no I/O.
	Render(in Input) (delivery.Payload, error)
}

// Registry manages all registered renderers
type Registry struct {
	mu        sync.RWMutex
	renderers map[transition.Kind]Renderer
}

// NewRegistry creates a new renderer registry
func NewRegistry() *Registry {
	return &Registry{
		renderers: make(map[transition.Kind]Renderer),
	}
}

// DefaultRegistry returns a registry with the built-in renderers
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(MapAlert{})
	r.Register(RoundResult{})
	r.Register(Watch{})
	return r
}

// Register adds a renderer to the registry
func (r *Registry) Register(renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renderers[renderer.Kind()] = renderer
}

// Get retrieves a renderer by transition kind
func (r *Registry) Get(kind transition.Kind) (Renderer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	renderer, ok := r.renderers[kind]
	if !ok {
		return nil, fmt.Errorf("no renderer for transition kind: %s", kind)
	}
	return renderer, nil
}

// Render looks up the renderer for the input's kind and runs it
func (r *Registry) Render(in Input) (delivery.Payload, error) {
	renderer, err := r.Get(in.Transition.Kind)
	if err != nil {
		return delivery.Payload{}, err
	}
	return renderer.Render(in)
}

// List returns the names of all registered renderers, sorted by kind
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.renderers))
	for _, renderer := range r.renderers {
		infos = append(infos, Info{Kind: renderer.Kind(), Name: renderer.Name()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Kind < infos[j].Kind })
	return infos
}

// Info describes a registered renderer
type Info struct {
	Kind transition.Kind `json:"kind"`
	Name string          `json:"name"`
}

// Describe returns a plain text rendition of a payload, used for dry runs.
func Describe(p delivery.Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "content: %s\n", p.Content)
	if e := p.Embed; e != nil {
		fmt.Fprintf(&b, "title: %s\n", e.Title)
		fmt.Fprintf(&b, "description: %s\n", e.Description)
		fmt.Fprintf(&b, "color: %#06x\n", e.Color)
		for _, f := range e.Fields {
			inline := ""
			if f.Inline {
				inline = " (inline)"
			}
			fmt.Fprintf(&b, "field %s%s: %s\n", f.Name, inline, strings.ReplaceAll(f.Value, "\n", " | "))
		}
		if e.Footer != nil {
			fmt.Fprintf(&b, "footer: %s\n", e.Footer.Text)
		}
		if e.Timestamp != "" {
			fmt.Fprintf(&b, "timestamp: %s\n", e.Timestamp)
		}
	}
	return b.String()
}

// Embed colours.
const (
	colorGold     = 0xF1C40F
	colorDarkGold = 0xC27C0E
	colorMagenta  = 0xE91E63
)

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

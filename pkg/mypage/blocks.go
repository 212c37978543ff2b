// Package mypage manages the block layout of the personal dashboard.
package mypage

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/psantana5/tracker/pkg/models"
)

// Block ids
const (
	BlockAssignedToMe   = "issuesassignedtome"
	BlockResponsibleFor = "workpackagesresponsiblefor"
	BlockReportedByMe   = "issuesreportedbyme"
	BlockWatched        = "issueswatched"
	BlockNews           = "news"
	BlockCalendar       = "calendar"
	BlockTimelog        = "timelog"
)

// Layout groups
const (
	GroupTop   = "top"
	GroupLeft  = "left"
	GroupRight = "right"
)

// Groups lists the layout groups in display order
var Groups = []string{GroupTop, GroupLeft, GroupRight}

var ErrBlockExists = errors.New("block is already registered")

// Block is a dashboard widget the user can place
type Block struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Option is a block as offered by the layout editor
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

var defaultBlocks = []Block{
	{ID: BlockAssignedToMe, Label: "Work packages assigned to me"},
	{ID: BlockResponsibleFor, Label: "Work packages I am accountable for"},
	{ID: BlockReportedByMe, Label: "Reported work packages"},
	{ID: BlockWatched, Label: "Watched work packages"},
	{ID: BlockNews, Label: "Latest news"},
	{ID: BlockCalendar, Label: "Calendar"},
	{ID: BlockTimelog, Label: "Spent time"},
}

// Registry knows the default blocks and any registered by extensions
type Registry struct {
	mu         sync.RWMutex
	additional map[string]string
}

// NewRegistry creates a registry holding the default blocks
func NewRegistry() *Registry {
	return &Registry{additional: make(map[string]string)}
}

// Register adds an extension block. Default blocks cannot be replaced.
func (r *Registry) Register(id, label string) error {
	id = Normalize(id)
	if isDefault(id) {
		return ErrBlockExists
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.additional[id] = label
	return nil
}

// Available returns the default blocks followed by the additional ones sorted by id
func (r *Registry) Available() []Block {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := append([]Block(nil), defaultBlocks...)
	extra := make([]Block, 0, len(r.additional))
	for id, label := range r.additional {
		extra = append(extra, Block{ID: id, Label: label})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].ID < extra[j].ID })
	return append(out, extra...)
}

// IsAvailable reports whether the normalized id names a known block
func (r *Registry) IsAvailable(id string) bool {
	if isDefault(id) {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.additional[id]
	return ok
}

// Label returns the label of a block, or the id when unknown
func (r *Registry) Label(id string) string {
	for _, b := range r.Available() {
		if b.ID == id {
			return b.Label
		}
	}
	return id
}

// Options renders the available blocks for the layout editor
func (r *Registry) Options() []Option {
	blocks := r.Available()
	out := make([]Option, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, Option{Label: b.Label, Value: Dasherize(b.ID)})
	}
	return out
}

func isDefault(id string) bool {
	for _, b := range defaultBlocks {
		if b.ID == id {
			return true
		}
	}
	return false
}

// Normalize turns a block id received from a client into its stored form
func Normalize(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", "_"))
}

// Dasherize turns a stored block id into its client form
func Dasherize(id string) string {
	return strings.ReplaceAll(id, "_", "-")
}

// DefaultLayout returns a fresh copy of the layout used before the user customizes it
func DefaultLayout() models.PageLayout {
	return models.PageLayout{
		GroupLeft:  {BlockAssignedToMe},
		GroupRight: {BlockReportedByMe},
	}
}

// CurrentLayout returns a copy of the stored layout or the default one
func CurrentLayout(pref *models.Preference) models.PageLayout {
	if pref == nil || pref.MyPageLayout == nil {
		return DefaultLayout()
	}
	return pref.MyPageLayout.Clone()
}

// IsGroup reports whether name is a layout group
func IsGroup(name string) bool {
	for _, g := range Groups {
		if g == name {
			return true
		}
	}
	return false
}

// AddBlock moves block to the head of the top group. It reports false and
// leaves the layout untouched when the block is unknown.
func (r *Registry) AddBlock(layout models.PageLayout, block string) (models.PageLayout, string, bool) {
	block = Normalize(block)
	if block == "" || !r.IsAvailable(block) {
		return layout, block, false
	}
	out := RemoveBlock(layout, block)
	out[GroupTop] = append([]string{block}, out[GroupTop]...)
	return out, block, true
}

// RemoveBlock removes block from every group
func RemoveBlock(layout models.PageLayout, block string) models.PageLayout {
	block = Normalize(block)
	out := layout.Clone()
	for _, g := range Groups {
		out[g] = without(out[g], map[string]bool{block: true})
	}
	return out
}

// OrderBlocks sets the content of group to items, removing them from the
// other groups first. An unknown group leaves the layout untouched.
func OrderBlocks(layout models.PageLayout, group string, items []string) (models.PageLayout, bool) {
	if !IsGroup(group) {
		return layout, false
	}
	normalized := make([]string, 0, len(items))
	drop := make(map[string]bool, len(items))
	for _, item := range items {
		id := Normalize(item)
		if id == "" || drop[id] {
			continue
		}
		drop[id] = true
		normalized = append(normalized, id)
	}

	out := layout.Clone()
	for _, g := range Groups {
		out[g] = without(out[g], drop)
	}
	out[group] = normalized
	return out, true
}

func without(blocks []string, drop map[string]bool) []string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if !drop[b] {
			out = append(out, b)
		}
	}
	return out
}

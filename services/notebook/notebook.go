// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notebook

import (
	"fmt"
	"sort"
)

// Watcher receives every applied Change. For StyleDeleted, StyleConverted
// and RelationshipDeleted the notification arrives before the mutation, so
// the watcher can still query the document around the doomed entity; for
// all other variants it arrives after.
type Watcher interface {
	OnChange(change Change)
}

// Notebook is the in-memory document: the style and relationship maps, the
// ordered top-level style ids, and the watcher list.
type Notebook struct {
	nextID        StyleID
	pageConfig    PageConfig
	pages         []Page
	styleMap      map[StyleID]*Style
	relationships map[RelationshipID]*Relationship
	watchers      []Watcher
}

// New returns an empty notebook with a single page and default geometry.
func New() *Notebook {
	return &Notebook{
		nextID:        1,
		pageConfig:    DefaultPageConfig(),
		pages:         []Page{{StyleIDs: []StyleID{}}},
		styleMap:      make(map[StyleID]*Style),
		relationships: make(map[RelationshipID]*Relationship),
	}
}

// AddWatcher appends w to the watcher list. Watchers are notified in
// registration order.
func (nb *Notebook) AddWatcher(w Watcher) {
	nb.watchers = append(nb.watchers, w)
}

// RemoveWatcher removes w from the watcher list if present.
func (nb *Notebook) RemoveWatcher(w Watcher) {
	for i, existing := range nb.watchers {
		if existing == w {
			nb.watchers = append(nb.watchers[:i], nb.watchers[i+1:]...)
			return
		}
	}
}

func (nb *Notebook) notify(change Change) {
	for _, w := range nb.watchers {
		w.OnChange(change)
	}
}

// allocateID returns the next id from the shared counter. Styles and
// relationships draw from the same sequence.
func (nb *Notebook) allocateID() StyleID {
	id := nb.nextID
	nb.nextID++
	return id
}

// claimID allocates a fresh id when requested is zero; otherwise it keeps
// the counter ahead of the requested id and returns it. Undo scripts claim
// the ids of the entities they restore.
func (nb *Notebook) claimID(requested StyleID) StyleID {
	if requested == 0 {
		return nb.allocateID()
	}
	if nb.nextID <= requested {
		nb.nextID = requested + 1
	}
	return requested
}

// IsEmpty reports whether the notebook has no styles.
func (nb *Notebook) IsEmpty() bool { return len(nb.styleMap) == 0 }

// PageConfig returns the page geometry.
func (nb *Notebook) PageConfig() PageConfig { return nb.pageConfig }

// GetStyle returns the style with the given id or ErrStyleNotFound.
func (nb *Notebook) GetStyle(id StyleID) (*Style, error) {
	s, ok := nb.styleMap[id]
	if !ok {
		return nil, fmt.Errorf("style %d: %w", id, ErrStyleNotFound)
	}
	return s, nil
}

// HasStyleID reports whether a style with the given id exists.
func (nb *Notebook) HasStyleID(id StyleID) bool {
	_, ok := nb.styleMap[id]
	return ok
}

// GetRelationship returns the relationship with the given id or
// ErrRelationshipNotFound.
func (nb *Notebook) GetRelationship(id RelationshipID) (*Relationship, error) {
	r, ok := nb.relationships[id]
	if !ok {
		return nil, fmt.Errorf("relationship %d: %w", id, ErrRelationshipNotFound)
	}
	return r, nil
}

// AllStyles returns every style sorted by id.
func (nb *Notebook) AllStyles() []*Style {
	out := make([]*Style, 0, len(nb.styleMap))
	for _, s := range nb.styleMap {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllRelationships returns every relationship sorted by id.
func (nb *Notebook) AllRelationships() []*Relationship {
	out := make([]*Relationship, 0, len(nb.relationships))
	for _, r := range nb.relationships {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TopLevelStyleOrder returns the ordered ids of the top-level styles.
func (nb *Notebook) TopLevelStyleOrder() []StyleID {
	if len(nb.pages) == 0 {
		return nil
	}
	out := make([]StyleID, len(nb.pages[0].StyleIDs))
	copy(out, nb.pages[0].StyleIDs)
	return out
}

// TopLevelStyles returns the top-level styles in document order.
func (nb *Notebook) TopLevelStyles() []*Style {
	order := nb.TopLevelStyleOrder()
	out := make([]*Style, 0, len(order))
	for _, id := range order {
		if s, ok := nb.styleMap[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// IsTopLevel reports whether id names a top-level style.
func (nb *Notebook) IsTopLevel(id StyleID) bool {
	s, ok := nb.styleMap[id]
	return ok && s.ParentID == 0
}

// ChildStylesOf returns the direct children of the given style, sorted by
// id.
func (nb *Notebook) ChildStylesOf(id StyleID) []*Style {
	var out []*Style
	for _, s := range nb.styleMap {
		if s.ParentID == id {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TopLevelStyleOf walks the parent chain of id up to its top-level
// ancestor. The walk is bounded by the style count so a corrupted chain
// returns ErrCyclicStyleChain instead of looping.
func (nb *Notebook) TopLevelStyleOf(id StyleID) (*Style, error) {
	s, err := nb.GetStyle(id)
	if err != nil {
		return nil, err
	}
	for steps := 0; s.ParentID != 0; steps++ {
		if steps > len(nb.styleMap) {
			return nil, fmt.Errorf("style %d: %w", id, ErrCyclicStyleChain)
		}
		s, err = nb.GetStyle(s.ParentID)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// TopLevelStylePosition returns the index of id's top-level ancestor in
// the document order.
func (nb *Notebook) TopLevelStylePosition(id StyleID) (int, error) {
	top, err := nb.TopLevelStyleOf(id)
	if err != nil {
		return 0, err
	}
	for i, tid := range nb.pages[0].StyleIDs {
		if tid == top.ID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("style %d not in page order: %w", top.ID, ErrNotTopLevel)
}

// CompareStylePositions orders two styles by the positions of their
// top-level ancestors: negative if a precedes b, zero if they share a
// cell, positive if a follows b.
func (nb *Notebook) CompareStylePositions(a, b StyleID) (int, error) {
	pa, err := nb.TopLevelStylePosition(a)
	if err != nil {
		return 0, err
	}
	pb, err := nb.TopLevelStylePosition(b)
	if err != nil {
		return 0, err
	}
	return pa - pb, nil
}

// FollowingStyleID returns the id of the top-level style after id, or 0 if
// id is last.
func (nb *Notebook) FollowingStyleID(id StyleID) (StyleID, error) {
	pos, err := nb.TopLevelStylePosition(id)
	if err != nil {
		return 0, err
	}
	order := nb.pages[0].StyleIDs
	if pos+1 >= len(order) {
		return 0, nil
	}
	return order[pos+1], nil
}

// PrecedingStyleID returns the id of the top-level style before id, or 0
// if id is first.
func (nb *Notebook) PrecedingStyleID(id StyleID) (StyleID, error) {
	pos, err := nb.TopLevelStylePosition(id)
	if err != nil {
		return 0, err
	}
	if pos == 0 {
		return 0, nil
	}
	return nb.pages[0].StyleIDs[pos-1], nil
}

// FindStyles collects the styles under rootID matching the pattern into a
// fresh slice. rootID 0 searches the top-level styles in document order;
// otherwise the direct children of rootID, id-sorted. With
// pattern.Recursive the search descends into every visited subtree,
// depth-first.
func (nb *Notebook) FindStyles(pattern StylePattern, rootID StyleID) []*Style {
	var out []*Style
	nb.findStylesInto(pattern, rootID, &out)
	return out
}

func (nb *Notebook) findStylesInto(pattern StylePattern, rootID StyleID, out *[]*Style) {
	var candidates []*Style
	if rootID == 0 {
		candidates = nb.TopLevelStyles()
	} else {
		candidates = nb.ChildStylesOf(rootID)
	}
	for _, s := range candidates {
		if s.Matches(pattern) {
			*out = append(*out, s)
		}
		if pattern.Recursive {
			nb.findStylesInto(pattern, s.ID, out)
		}
	}
}

// FindStyle returns the first style matching the pattern under rootID, or
// nil.
func (nb *Notebook) FindStyle(pattern StylePattern, rootID StyleID) *Style {
	matches := nb.FindStyles(pattern, rootID)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// HasStyle reports whether any style under rootID matches the pattern.
func (nb *Notebook) HasStyle(pattern StylePattern, rootID StyleID) bool {
	return nb.FindStyle(pattern, rootID) != nil
}

// RelationshipsOf returns every relationship touching id, sorted by id.
func (nb *Notebook) RelationshipsOf(id StyleID) []*Relationship {
	var out []*Relationship
	for _, r := range nb.relationships {
		if r.Touches(id) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindRelationships collects the relationships matching the pattern,
// sorted by id.
func (nb *Notebook) FindRelationships(pattern RelationshipPattern) []*Relationship {
	var out []*Relationship
	for _, r := range nb.relationships {
		if r.Matches(pattern) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyChange mutates the document according to the change and notifies
// watchers. Delete-like changes (StyleDeleted, StyleConverted,
// RelationshipDeleted) notify before mutating; everything else notifies
// after. An unknown id is a loud error and nothing is mutated or notified.
func (nb *Notebook) ApplyChange(change Change) error {
	switch c := change.(type) {
	case StyleInserted:
		if err := nb.insertStyle(c.Style, c.AfterID); err != nil {
			return err
		}
		nb.notify(change)
	case StyleChanged:
		s, err := nb.GetStyle(c.Style.ID)
		if err != nil {
			return err
		}
		s.Data = c.Style.Data
		nb.notify(change)
	case StyleConverted:
		s, err := nb.GetStyle(c.StyleID)
		if err != nil {
			return err
		}
		nb.notify(change)
		if c.Role != "" {
			s.Role = c.Role
		}
		if c.Subrole != "" {
			s.Subrole = c.Subrole
		}
		if c.Type != "" {
			s.Type = c.Type
		}
		if c.Data != nil {
			s.Data = c.Data
		}
	case StyleDeleted:
		s, err := nb.GetStyle(c.Style.ID)
		if err != nil {
			return err
		}
		nb.notify(change)
		nb.deleteStyle(s)
	case StyleMoved:
		if err := nb.moveStyle(c); err != nil {
			return err
		}
		nb.notify(change)
	case RelationshipInserted:
		if _, exists := nb.relationships[c.Relationship.ID]; exists {
			return fmt.Errorf("relationship %d: %w", c.Relationship.ID, ErrRelationshipExists)
		}
		nb.relationships[c.Relationship.ID] = c.Relationship
		nb.notify(change)
	case RelationshipDeleted:
		if _, ok := nb.relationships[c.Relationship.ID]; !ok {
			return fmt.Errorf("relationship %d: %w", c.Relationship.ID, ErrRelationshipNotFound)
		}
		nb.notify(change)
		delete(nb.relationships, c.Relationship.ID)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownChange, change)
	}
	return nil
}

func (nb *Notebook) insertStyle(s *Style, afterID StyleID) error {
	if _, exists := nb.styleMap[s.ID]; exists {
		return fmt.Errorf("style %d: %w", s.ID, ErrStyleExists)
	}
	if s.Data != nil && s.Data.DataType() != s.Type {
		return fmt.Errorf("style %d: %s data on %s style: %w",
			s.ID, s.Data.DataType(), s.Type, ErrDataTypeMismatch)
	}
	if s.ParentID != 0 {
		if _, ok := nb.styleMap[s.ParentID]; !ok {
			return fmt.Errorf("parent of style %d: %w", s.ID, ErrStyleNotFound)
		}
		nb.styleMap[s.ID] = s
		return nil
	}
	// The page order is resolved before the map write so a bad afterID
	// leaves the document untouched.
	order := nb.pages[0].StyleIDs
	switch afterID {
	case StyleTop:
		order = append([]StyleID{s.ID}, order...)
	case StyleBottom:
		order = append(order, s.ID)
	default:
		idx := indexOf(order, afterID)
		if idx < 0 {
			return fmt.Errorf("afterId %d: %w", afterID, ErrStyleNotFound)
		}
		order = append(order, 0)
		copy(order[idx+2:], order[idx+1:])
		order[idx+1] = s.ID
	}
	nb.styleMap[s.ID] = s
	nb.pages[0].StyleIDs = order
	return nil
}

func (nb *Notebook) deleteStyle(s *Style) {
	delete(nb.styleMap, s.ID)
	if s.ParentID == 0 {
		order := nb.pages[0].StyleIDs
		if idx := indexOf(order, s.ID); idx >= 0 {
			nb.pages[0].StyleIDs = append(order[:idx], order[idx+1:]...)
		}
	}
}

func (nb *Notebook) moveStyle(c StyleMoved) error {
	s, err := nb.GetStyle(c.StyleID)
	if err != nil {
		return err
	}
	if s.ParentID != 0 {
		return fmt.Errorf("style %d: %w", c.StyleID, ErrNotTopLevel)
	}
	order := nb.pages[0].StyleIDs
	idx := indexOf(order, c.StyleID)
	if idx < 0 {
		return fmt.Errorf("style %d not in page order: %w", c.StyleID, ErrNotTopLevel)
	}
	order = append(order[:idx], order[idx+1:]...)
	pos := c.NewPosition
	if pos < 0 {
		pos = 0
	}
	if pos > len(order) {
		pos = len(order)
	}
	order = append(order, 0)
	copy(order[pos+1:], order[pos:])
	order[pos] = c.StyleID
	nb.pages[0].StyleIDs = order
	return nil
}

func indexOf(ids []StyleID, id StyleID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

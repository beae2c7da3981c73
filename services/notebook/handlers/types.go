// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the notebook service over HTTP: a WebSocket
// endpoint carrying the client protocol, plus a few REST routes for
// read-only queries and health checks.
package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/davidjeschke/math-tablet/services/notebook"
)

// Client request operations.
const (
	OpOpenNotebook   = "openNotebook"
	OpCloseNotebook  = "closeNotebook"
	OpChangeNotebook = "changeNotebook"
	OpUseTool        = "useTool"
	OpListNotebooks  = "listNotebooks"
	OpCreateNotebook = "createNotebook"
	OpDeleteNotebook = "deleteNotebook"
	OpRenameNotebook = "renameNotebook"
)

// Server response operations.
const (
	OpNotebookOpened  = "notebookOpened"
	OpNotebookChanged = "notebookChanged"
	OpNotebookClosed  = "notebookClosed"
	OpNotebookList    = "notebookList"
	OpAck             = "ack"
	OpError           = "error"
)

// ClientRequest is one message from a client socket. Operation selects the
// action; the remaining fields are operation-specific.
type ClientRequest struct {
	RequestID string `json:"requestId,omitempty"`
	Operation string `json:"operation" validate:"required,oneof=openNotebook closeNotebook changeNotebook useTool listNotebooks createNotebook deleteNotebook renameNotebook"`

	Path    string `json:"path,omitempty"`
	NewPath string `json:"newPath,omitempty"`

	// StyleID names the tool style for useTool.
	StyleID notebook.StyleID `json:"styleId,omitempty"`

	// ChangeRequests and WantUndo apply to changeNotebook.
	ChangeRequests []ChangeRequestRecord `json:"changeRequests,omitempty"`
	WantUndo       bool                  `json:"wantUndo,omitempty"`
}

// ServerResponse is one message to a client socket. RequestID echoes the
// originating request when the message is a direct reply; broadcasts carry
// no request id.
type ServerResponse struct {
	Operation string `json:"operation"`
	RequestID string `json:"requestId,omitempty"`
	Path      string `json:"path,omitempty"`

	// Notebook is the full persisted document, sent on notebookOpened.
	Notebook json.RawMessage `json:"notebook,omitempty"`

	Changes  []ChangeRecord        `json:"changes,omitempty"`
	Complete bool                  `json:"complete,omitempty"`
	Undo     []ChangeRequestRecord `json:"undo,omitempty"`

	Paths   []string `json:"paths,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Message string   `json:"message,omitempty"`
}

// StyleRecord is the wire form of a style. Data is the JSON encoding of
// the payload variant selected by Type.
type StyleRecord struct {
	ID       notebook.StyleID      `json:"id"`
	ParentID notebook.StyleID      `json:"parentId"`
	Role     notebook.StyleRole    `json:"role"`
	Subrole  notebook.StyleSubrole `json:"subrole,omitempty"`
	Type     notebook.StyleType    `json:"type"`
	Source   notebook.StyleSource  `json:"source"`
	Data     json.RawMessage       `json:"data,omitempty"`
}

func newStyleRecord(s *notebook.Style) (StyleRecord, error) {
	raw, err := notebook.EncodeStyleData(s.Data)
	if err != nil {
		return StyleRecord{}, err
	}
	return StyleRecord{
		ID:       s.ID,
		ParentID: s.ParentID,
		Role:     s.Role,
		Subrole:  s.Subrole,
		Type:     s.Type,
		Source:   s.Source,
		Data:     raw,
	}, nil
}

// Change record type tags.
const (
	ChangeStyleInserted        = "styleInserted"
	ChangeStyleChanged         = "styleChanged"
	ChangeStyleConverted       = "styleConverted"
	ChangeStyleDeleted         = "styleDeleted"
	ChangeStyleMoved           = "styleMoved"
	ChangeRelationshipInserted = "relationshipInserted"
	ChangeRelationshipDeleted  = "relationshipDeleted"
)

// ChangeRecord is the wire form of an applied change. Type selects which of
// the remaining fields are meaningful.
type ChangeRecord struct {
	Type string `json:"type"`

	Style        *StyleRecord    `json:"style,omitempty"`
	PreviousData json.RawMessage `json:"previousData,omitempty"`

	StyleID     notebook.StyleID      `json:"styleId,omitempty"`
	Role        notebook.StyleRole    `json:"role,omitempty"`
	Subrole     notebook.StyleSubrole `json:"subrole,omitempty"`
	StyleType   notebook.StyleType    `json:"styleType,omitempty"`
	Data        json.RawMessage       `json:"data,omitempty"`
	AfterID     *notebook.StyleID     `json:"afterId,omitempty"`
	OldPosition int                   `json:"oldPosition,omitempty"`
	NewPosition int                   `json:"newPosition,omitempty"`

	Relationship *notebook.Relationship `json:"relationship,omitempty"`
}

// NewChangeRecords encodes applied changes for the wire.
func NewChangeRecords(changes []notebook.Change) ([]ChangeRecord, error) {
	out := make([]ChangeRecord, 0, len(changes))
	for _, change := range changes {
		rec, err := newChangeRecord(change)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func newChangeRecord(change notebook.Change) (ChangeRecord, error) {
	switch c := change.(type) {
	case notebook.StyleInserted:
		style, err := newStyleRecord(c.Style)
		if err != nil {
			return ChangeRecord{}, err
		}
		after := c.AfterID
		return ChangeRecord{Type: ChangeStyleInserted, Style: &style, AfterID: &after}, nil
	case notebook.StyleChanged:
		style, err := newStyleRecord(c.Style)
		if err != nil {
			return ChangeRecord{}, err
		}
		prev, err := notebook.EncodeStyleData(c.PreviousData)
		if err != nil {
			return ChangeRecord{}, err
		}
		return ChangeRecord{Type: ChangeStyleChanged, Style: &style, PreviousData: prev}, nil
	case notebook.StyleConverted:
		data, err := notebook.EncodeStyleData(c.Data)
		if err != nil {
			return ChangeRecord{}, err
		}
		return ChangeRecord{
			Type:      ChangeStyleConverted,
			StyleID:   c.StyleID,
			Role:      c.Role,
			Subrole:   c.Subrole,
			StyleType: c.Type,
			Data:      data,
		}, nil
	case notebook.StyleDeleted:
		style, err := newStyleRecord(c.Style)
		if err != nil {
			return ChangeRecord{}, err
		}
		return ChangeRecord{Type: ChangeStyleDeleted, Style: &style}, nil
	case notebook.StyleMoved:
		after := c.AfterID
		return ChangeRecord{
			Type:        ChangeStyleMoved,
			StyleID:     c.StyleID,
			AfterID:     &after,
			OldPosition: c.OldPosition,
			NewPosition: c.NewPosition,
		}, nil
	case notebook.RelationshipInserted:
		return ChangeRecord{Type: ChangeRelationshipInserted, Relationship: c.Relationship}, nil
	case notebook.RelationshipDeleted:
		return ChangeRecord{Type: ChangeRelationshipDeleted, Relationship: c.Relationship}, nil
	}
	return ChangeRecord{}, fmt.Errorf("unencodable change %T", change)
}

// Change request operation tags.
const (
	RequestInsertStyle        = "insertStyle"
	RequestDeleteStyle        = "deleteStyle"
	RequestChangeStyle        = "changeStyle"
	RequestConvertStyle       = "convertStyle"
	RequestMoveStyle          = "moveStyle"
	RequestInsertRelationship = "insertRelationship"
	RequestDeleteRelationship = "deleteRelationship"
)

// StylePropertiesRecord is the wire form of a style insert's properties.
type StylePropertiesRecord struct {
	Role    notebook.StyleRole    `json:"role"`
	Subrole notebook.StyleSubrole `json:"subrole,omitempty"`
	Type    notebook.StyleType    `json:"type"`
	Data    json.RawMessage       `json:"data,omitempty"`

	ExclusiveChildTypeAndRole bool `json:"exclusiveChildTypeAndRole,omitempty"`

	RelationsFrom map[notebook.StyleID]notebook.RelationshipProperties `json:"relationsFrom,omitempty"`
	RelationsTo   map[notebook.StyleID]notebook.RelationshipProperties `json:"relationsTo,omitempty"`
	Subprops      []StylePropertiesRecord                              `json:"subprops,omitempty"`
}

func (r StylePropertiesRecord) toProperties() (notebook.StyleProperties, error) {
	data, err := notebook.DecodeStyleData(r.Type, r.Data)
	if err != nil {
		return notebook.StyleProperties{}, err
	}
	props := notebook.StyleProperties{
		Role:                      r.Role,
		Subrole:                   r.Subrole,
		Type:                      r.Type,
		Data:                      data,
		ExclusiveChildTypeAndRole: r.ExclusiveChildTypeAndRole,
		RelationsFrom:             r.RelationsFrom,
		RelationsTo:               r.RelationsTo,
	}
	for _, sub := range r.Subprops {
		subProps, err := sub.toProperties()
		if err != nil {
			return notebook.StyleProperties{}, err
		}
		props.Subprops = append(props.Subprops, subProps)
	}
	return props, nil
}

func newStylePropertiesRecord(props notebook.StyleProperties) (StylePropertiesRecord, error) {
	data, err := notebook.EncodeStyleData(props.Data)
	if err != nil {
		return StylePropertiesRecord{}, err
	}
	rec := StylePropertiesRecord{
		Role:                      props.Role,
		Subrole:                   props.Subrole,
		Type:                      props.Type,
		Data:                      data,
		ExclusiveChildTypeAndRole: props.ExclusiveChildTypeAndRole,
		RelationsFrom:             props.RelationsFrom,
		RelationsTo:               props.RelationsTo,
	}
	for _, sub := range props.Subprops {
		subRec, err := newStylePropertiesRecord(sub)
		if err != nil {
			return StylePropertiesRecord{}, err
		}
		rec.Subprops = append(rec.Subprops, subRec)
	}
	return rec, nil
}

// ChangeRequestRecord is the wire form of a change request. Operation
// selects the variant. Data on changeStyle and convertStyle records is
// decoded against the Type field, which those operations therefore require
// when data is present.
type ChangeRequestRecord struct {
	Operation string `json:"operation" validate:"required,oneof=insertStyle deleteStyle changeStyle convertStyle moveStyle insertRelationship deleteRelationship"`

	ParentID notebook.StyleID `json:"parentId,omitempty"`
	AfterID  notebook.StyleID `json:"afterId,omitempty"`
	StyleID  notebook.StyleID `json:"styleId,omitempty"`

	// Source is carried by undo-script inserts so a restored style keeps
	// its original author.
	Source notebook.StyleSource `json:"source,omitempty"`

	Role    notebook.StyleRole    `json:"role,omitempty"`
	Subrole notebook.StyleSubrole `json:"subrole,omitempty"`
	Type    notebook.StyleType    `json:"type,omitempty"`
	Data    json.RawMessage       `json:"data,omitempty"`

	Props *StylePropertiesRecord `json:"props,omitempty"`

	FromID            notebook.StyleID                 `json:"fromId,omitempty"`
	ToID              notebook.StyleID                 `json:"toId,omitempty"`
	RelationshipID    notebook.RelationshipID          `json:"relationshipId,omitempty"`
	RelationshipProps *notebook.RelationshipProperties `json:"relationshipProps,omitempty"`
}

// ToRequest decodes the record into the request variant it names.
func (r ChangeRequestRecord) ToRequest() (notebook.ChangeRequest, error) {
	switch r.Operation {
	case RequestInsertStyle:
		if r.Props == nil {
			return nil, fmt.Errorf("insertStyle request missing props")
		}
		props, err := r.Props.toProperties()
		if err != nil {
			return nil, err
		}
		return notebook.InsertStyleRequest{
			StyleID:  r.StyleID,
			ParentID: r.ParentID,
			AfterID:  r.AfterID,
			Source:   r.Source,
			Props:    props,
		}, nil
	case RequestDeleteStyle:
		return notebook.DeleteStyleRequest{StyleID: r.StyleID}, nil
	case RequestChangeStyle:
		data, err := notebook.DecodeStyleData(r.Type, r.Data)
		if err != nil {
			return nil, err
		}
		return notebook.ChangeStyleRequest{StyleID: r.StyleID, Data: data}, nil
	case RequestConvertStyle:
		var data notebook.StyleData
		if len(r.Data) > 0 {
			var err error
			data, err = notebook.DecodeStyleData(r.Type, r.Data)
			if err != nil {
				return nil, err
			}
		}
		return notebook.ConvertStyleRequest{
			StyleID: r.StyleID,
			Role:    r.Role,
			Subrole: r.Subrole,
			Type:    r.Type,
			Data:    data,
		}, nil
	case RequestMoveStyle:
		return notebook.MoveStyleRequest{StyleID: r.StyleID, AfterID: r.AfterID}, nil
	case RequestInsertRelationship:
		var props notebook.RelationshipProperties
		if r.RelationshipProps != nil {
			props = *r.RelationshipProps
		}
		return notebook.InsertRelationshipRequest{
			RelationshipID: r.RelationshipID,
			FromID:         r.FromID,
			ToID:           r.ToID,
			Source:         r.Source,
			Props:          props,
		}, nil
	case RequestDeleteRelationship:
		return notebook.DeleteRelationshipRequest{RelationshipID: r.RelationshipID}, nil
	}
	return nil, fmt.Errorf("unknown change request operation %q", r.Operation)
}

// NewChangeRequestRecords encodes change requests for the wire, used to
// hand undo scripts back to the requesting client.
func NewChangeRequestRecords(requests []notebook.ChangeRequest) ([]ChangeRequestRecord, error) {
	out := make([]ChangeRequestRecord, 0, len(requests))
	for _, req := range requests {
		rec, err := newChangeRequestRecord(req)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func newChangeRequestRecord(req notebook.ChangeRequest) (ChangeRequestRecord, error) {
	switch r := req.(type) {
	case notebook.InsertStyleRequest:
		props, err := newStylePropertiesRecord(r.Props)
		if err != nil {
			return ChangeRequestRecord{}, err
		}
		return ChangeRequestRecord{
			Operation: RequestInsertStyle,
			StyleID:   r.StyleID,
			ParentID:  r.ParentID,
			AfterID:   r.AfterID,
			Source:    r.Source,
			Props:     &props,
		}, nil
	case notebook.DeleteStyleRequest:
		return ChangeRequestRecord{Operation: RequestDeleteStyle, StyleID: r.StyleID}, nil
	case notebook.ChangeStyleRequest:
		rec := ChangeRequestRecord{Operation: RequestChangeStyle, StyleID: r.StyleID}
		if r.Data != nil {
			data, err := notebook.EncodeStyleData(r.Data)
			if err != nil {
				return ChangeRequestRecord{}, err
			}
			rec.Type = r.Data.DataType()
			rec.Data = data
		}
		return rec, nil
	case notebook.ConvertStyleRequest:
		rec := ChangeRequestRecord{
			Operation: RequestConvertStyle,
			StyleID:   r.StyleID,
			Role:      r.Role,
			Subrole:   r.Subrole,
			Type:      r.Type,
		}
		if r.Data != nil {
			data, err := notebook.EncodeStyleData(r.Data)
			if err != nil {
				return ChangeRequestRecord{}, err
			}
			if rec.Type == "" {
				rec.Type = r.Data.DataType()
			}
			rec.Data = data
		}
		return rec, nil
	case notebook.MoveStyleRequest:
		return ChangeRequestRecord{Operation: RequestMoveStyle, StyleID: r.StyleID, AfterID: r.AfterID}, nil
	case notebook.InsertRelationshipRequest:
		props := r.Props
		return ChangeRequestRecord{
			Operation:         RequestInsertRelationship,
			RelationshipID:    r.RelationshipID,
			FromID:            r.FromID,
			ToID:              r.ToID,
			Source:            r.Source,
			RelationshipProps: &props,
		}, nil
	case notebook.DeleteRelationshipRequest:
		return ChangeRequestRecord{Operation: RequestDeleteRelationship, RelationshipID: r.RelationshipID}, nil
	}
	return ChangeRequestRecord{}, fmt.Errorf("unencodable change request %T", req)
}

package graph

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Node is the client-facing form of a canvas node. Optional fields are
// omitted from the wire payload when default-valued.
type Node struct {
	ID       string          `json:"id" binding:"required"`
	Type     string          `json:"type,omitempty"`
	Position json.RawMessage `json:"position,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	Style     json.RawMessage `json:"style,omitempty"`
	ClassName string          `json:"className,omitempty"`
	Hidden    bool            `json:"hidden,omitempty"`
	Selected  bool            `json:"selected,omitempty"`
	Dragging  bool            `json:"dragging,omitempty"`
	Width     *float64        `json:"width,omitempty"`
	Height    *float64        `json:"height,omitempty"`
	ZIndex    *int            `json:"zIndex,omitempty"`
}

// Edge is the client-facing form of a canvas edge. Source/Target reference
// node ids in client-local terms.
type Edge struct {
	ID     string `json:"id" binding:"required"`
	Source string `json:"source" binding:"required"`
	Target string `json:"target" binding:"required"`

	Type         string          `json:"type,omitempty"`
	Label        string          `json:"label,omitempty"`
	SourceHandle string          `json:"sourceHandle,omitempty"`
	TargetHandle string          `json:"targetHandle,omitempty"`
	Style        json.RawMessage `json:"style,omitempty"`
	MarkerEnd    json.RawMessage `json:"markerEnd,omitempty"`
	MarkerStart  json.RawMessage `json:"markerStart,omitempty"`
	Animated     bool            `json:"animated,omitempty"`
	Hidden       bool            `json:"hidden,omitempty"`
	Selected     bool            `json:"selected,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ZIndex       *int            `json:"zIndex,omitempty"`
}

// Document is a full node/edge canvas as exchanged with clients
type Document struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

var emptyObject = json.RawMessage(`{}`)

// requiredJSON normalizes position/data fields, which are always present
// on stored records.
func requiredJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON(emptyObject)
	}
	return datatypes.JSON(raw)
}

// optionalJSON keeps truly optional structured fields nil when absent
func optionalJSON(raw json.RawMessage) datatypes.JSON {
	if isEmptyJSON(raw) {
		return nil
	}
	return datatypes.JSON(raw)
}

func isEmptyJSON(raw []byte) bool {
	switch string(raw) {
	case "", "{}", "null":
		return true
	}
	return false
}

func readRequiredJSON(v datatypes.JSON) json.RawMessage {
	if len(v) == 0 {
		return emptyObject
	}
	return json.RawMessage(v)
}

func readOptionalJSON(v datatypes.JSON) json.RawMessage {
	if isEmptyJSON(v) {
		return nil
	}
	return json.RawMessage(v)
}

func nodeRecord(designID, userID uint, n Node, createdAt time.Time) GraphNode {
	return GraphNode{
		ID:         compositeID(designID, n.ID),
		OriginalID: n.ID,
		Type:       n.Type,
		Position:   requiredJSON(n.Position),
		Data:       requiredJSON(n.Data),
		Style:      optionalJSON(n.Style),
		ClassName:  n.ClassName,
		Hidden:     n.Hidden,
		Selected:   n.Selected,
		Dragging:   n.Dragging,
		Width:      n.Width,
		Height:     n.Height,
		ZIndex:     n.ZIndex,
		UserID:     userID,
		DesignID:   designID,
		CreatedAt:  createdAt,
	}
}

func edgeRecord(designID, userID uint, e Edge, createdAt time.Time) GraphEdge {
	return GraphEdge{
		ID:             compositeID(designID, e.ID),
		OriginalID:     e.ID,
		Source:         compositeID(designID, e.Source),
		Target:         compositeID(designID, e.Target),
		OriginalSource: e.Source,
		OriginalTarget: e.Target,
		Label:          e.Label,
		Type:           e.Type,
		SourceHandle:   e.SourceHandle,
		TargetHandle:   e.TargetHandle,
		Style:          optionalJSON(e.Style),
		MarkerEnd:      optionalJSON(e.MarkerEnd),
		MarkerStart:    optionalJSON(e.MarkerStart),
		Animated:       e.Animated,
		Hidden:         e.Hidden,
		Selected:       e.Selected,
		Data:           optionalJSON(e.Data),
		ZIndex:         e.ZIndex,
		UserID:         userID,
		DesignID:       designID,
		CreatedAt:      createdAt,
	}
}

// clientNode reconstructs the client-facing node from a stored record,
// using the original (client-local) identifier.
func clientNode(rec GraphNode) Node {
	return Node{
		ID:        rec.OriginalID,
		Type:      rec.Type,
		Position:  readRequiredJSON(rec.Position),
		Data:      readRequiredJSON(rec.Data),
		Style:     readOptionalJSON(rec.Style),
		ClassName: rec.ClassName,
		Hidden:    rec.Hidden,
		Selected:  rec.Selected,
		Dragging:  rec.Dragging,
		Width:     rec.Width,
		Height:    rec.Height,
		ZIndex:    rec.ZIndex,
	}
}

func clientEdge(rec GraphEdge) Edge {
	return Edge{
		ID:           rec.OriginalID,
		Source:       rec.OriginalSource,
		Target:       rec.OriginalTarget,
		Type:         rec.Type,
		Label:        rec.Label,
		SourceHandle: rec.SourceHandle,
		TargetHandle: rec.TargetHandle,
		Style:        readOptionalJSON(rec.Style),
		MarkerEnd:    readOptionalJSON(rec.MarkerEnd),
		MarkerStart:  readOptionalJSON(rec.MarkerStart),
		Animated:     rec.Animated,
		Hidden:       rec.Hidden,
		Selected:     rec.Selected,
		Data:         readOptionalJSON(rec.Data),
		ZIndex:       rec.ZIndex,
	}
}

package graph

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// GraphNode is the stored form of a canvas node. The primary key is the
// composite id designID-originalID; OriginalID is the client-local
// identifier, stable across save/reload.
type GraphNode struct {
	ID         string `gorm:"primaryKey;size:512"`
	OriginalID string `gorm:"size:255;not null"`
	Type       string `gorm:"size:100"`

	Position datatypes.JSON
	Data     datatypes.JSON
	Style    datatypes.JSON

	ClassName string `gorm:"size:255"`
	Hidden    bool
	Selected  bool
	Dragging  bool
	Width     *float64
	Height    *float64
	ZIndex    *int

	UserID    uint `gorm:"index"`
	DesignID  uint `gorm:"index;index:idx_graph_nodes_user_design,priority:2"`
	CreatedAt time.Time
}

func (GraphNode) TableName() string {
	return "graph_nodes"
}

// GraphEdge is the stored form of a canvas edge. Source/Target hold
// composite node ids; OriginalSource/OriginalTarget the client-local ones.
type GraphEdge struct {
	ID         string `gorm:"primaryKey;size:512"`
	OriginalID string `gorm:"size:255;not null"`

	Source         string `gorm:"size:512;not null"`
	Target         string `gorm:"size:512;not null"`
	OriginalSource string `gorm:"size:255;not null"`
	OriginalTarget string `gorm:"size:255;not null"`

	Label        string `gorm:"size:255"`
	Type         string `gorm:"size:100"`
	SourceHandle string `gorm:"size:255"`
	TargetHandle string `gorm:"size:255"`

	Style       datatypes.JSON
	MarkerEnd   datatypes.JSON
	MarkerStart datatypes.JSON
	Data        datatypes.JSON

	Animated bool
	Hidden   bool
	Selected bool
	ZIndex   *int

	UserID    uint `gorm:"index"`
	DesignID  uint `gorm:"index"`
	CreatedAt time.Time
}

func (GraphEdge) TableName() string {
	return "graph_edges"
}

// NodeLink is the derived directional relationship between two node
// records. A link only materializes when both endpoints exist within the
// same design; a dangling edge keeps its record but gets no link.
type NodeLink struct {
	ID             uint   `gorm:"primaryKey"`
	EdgeID         string `gorm:"size:512;not null;index"`
	OriginalEdgeID string `gorm:"size:255;not null"`
	SourceID       string `gorm:"size:512;not null"`
	TargetID       string `gorm:"size:512;not null"`
	Label          string `gorm:"size:255"`
	DesignID       uint   `gorm:"index"`
}

func (NodeLink) TableName() string {
	return "node_links"
}

// compositeID forms the graph-store-internal identifier from a design id
// and a client-local element id.
func compositeID(designID uint, localID string) string {
	return fmt.Sprintf("%d-%s", designID, localID)
}

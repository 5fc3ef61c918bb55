// Package graph persists design canvases as node/edge records and
// translates between the client document form and the stored form.
// All writes for one design run serialized inside a single transaction;
// writes for different designs run in parallel.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Store is the design graph persistence layer
type Store struct {
	logger *slog.Logger
	db     *gorm.DB

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewStore creates a graph store on the given database handle
func NewStore(db *gorm.DB) *Store {
	return &Store{
		logger: slog.With("service", "GraphStore"),
		db:     db,
		locks:  make(map[uint]*sync.Mutex),
	}
}

// lockDesign serializes write transactions per design id
func (s *Store) lockDesign(designID uint) func() {
	s.mu.Lock()
	l, ok := s.locks[designID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[designID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// CreateGraph writes a brand-new canvas: all nodes in one batched write,
// all edges in a second, then the derived node links, inside a single
// transaction so a partial failure leaves no orphaned edges.
func (s *Store) CreateGraph(ctx context.Context, designID, userID uint, doc *Document) error {
	unlock := s.lockDesign(designID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.writeDocument(tx, designID, userID, doc)
	})
	if err != nil {
		return fmt.Errorf("failed to create graph for design %d: %w", designID, err)
	}

	s.logger.Info("Graph created", "design_id", designID,
		"nodes", len(doc.Nodes), "edges", len(doc.Edges))
	return nil
}

// GetGraph reads the canvas for a design, ordered by creation time, in
// client document form.
func (s *Store) GetGraph(ctx context.Context, designID uint) (*Document, error) {
	var nodes []GraphNode
	if err := s.db.WithContext(ctx).
		Where("design_id = ?", designID).
		Order("created_at, id").
		Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to read nodes for design %d: %w", designID, err)
	}

	var edges []GraphEdge
	if err := s.db.WithContext(ctx).
		Where("design_id = ?", designID).
		Order("created_at, id").
		Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("failed to read edges for design %d: %w", designID, err)
	}

	doc := &Document{
		Nodes: make([]Node, 0, len(nodes)),
		Edges: make([]Edge, 0, len(edges)),
	}
	for _, rec := range nodes {
		doc.Nodes = append(doc.Nodes, clientNode(rec))
	}
	for _, rec := range edges {
		doc.Edges = append(doc.Edges, clientEdge(rec))
	}
	return doc, nil
}

// ReplaceGraph atomically swaps the stored canvas for a full replacement
// set: delete nodes (cascading their links), delete edges explicitly by
// id, recreate nodes, edges, and links in one transaction, so a reader
// never observes a half-deleted graph. Returns the canonical post-save
// document from a read-back.
func (s *Store) ReplaceGraph(ctx context.Context, designID, userID uint, doc *Document) (*Document, error) {
	unlock := s.lockDesign(designID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("design_id = ?", designID).Delete(&NodeLink{}).Error; err != nil {
			return fmt.Errorf("failed to delete node links: %w", err)
		}
		if err := tx.Where("design_id = ?", designID).Delete(&GraphNode{}).Error; err != nil {
			return fmt.Errorf("failed to delete nodes: %w", err)
		}

		// Edges are deleted explicitly by id; they are not assumed to
		// cascade from node deletion.
		var edgeIDs []string
		if err := tx.Model(&GraphEdge{}).Where("design_id = ?", designID).Pluck("id", &edgeIDs).Error; err != nil {
			return fmt.Errorf("failed to collect edge ids: %w", err)
		}
		if len(edgeIDs) > 0 {
			if err := tx.Where("id IN ?", edgeIDs).Delete(&GraphEdge{}).Error; err != nil {
				return fmt.Errorf("failed to delete edges: %w", err)
			}
		}

		return s.writeDocument(tx, designID, userID, doc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replace graph for design %d: %w", designID, err)
	}

	s.logger.Info("Graph replaced", "design_id", designID,
		"nodes", len(doc.Nodes), "edges", len(doc.Edges))

	return s.GetGraph(ctx, designID)
}

// CopyGraph duplicates the canvas of one design into another. Node ids are
// remapped through an old-to-new map built while copying nodes, before any
// edge is written; otherwise link materialization would silently miss its
// endpoints.
func (s *Store) CopyGraph(ctx context.Context, srcDesignID, dstDesignID, dstUserID uint) error {
	unlock := s.lockDesign(dstDesignID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var srcNodes []GraphNode
		if err := tx.Where("design_id = ?", srcDesignID).Order("created_at, id").Find(&srcNodes).Error; err != nil {
			return fmt.Errorf("failed to read source nodes: %w", err)
		}

		now := time.Now().UTC()
		idMap := make(map[string]string, len(srcNodes))
		newNodes := make([]GraphNode, 0, len(srcNodes))
		for i, n := range srcNodes {
			newID := compositeID(dstDesignID, n.OriginalID)
			idMap[n.ID] = newID

			n.ID = newID
			n.DesignID = dstDesignID
			n.UserID = dstUserID
			n.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
			newNodes = append(newNodes, n)
		}
		if len(newNodes) > 0 {
			if err := tx.Create(&newNodes).Error; err != nil {
				return fmt.Errorf("failed to copy nodes: %w", err)
			}
		}

		var srcEdges []GraphEdge
		if err := tx.Where("design_id = ?", srcDesignID).Order("created_at, id").Find(&srcEdges).Error; err != nil {
			return fmt.Errorf("failed to read source edges: %w", err)
		}

		newEdges := make([]GraphEdge, 0, len(srcEdges))
		for i, e := range srcEdges {
			e.ID = compositeID(dstDesignID, e.OriginalID)

			if mapped, ok := idMap[e.Source]; ok {
				e.Source = mapped
			} else {
				e.Source = compositeID(dstDesignID, e.OriginalSource)
			}
			if mapped, ok := idMap[e.Target]; ok {
				e.Target = mapped
			} else {
				e.Target = compositeID(dstDesignID, e.OriginalTarget)
			}

			e.DesignID = dstDesignID
			e.UserID = dstUserID
			e.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
			newEdges = append(newEdges, e)
		}
		if len(newEdges) > 0 {
			if err := tx.Create(&newEdges).Error; err != nil {
				return fmt.Errorf("failed to copy edges: %w", err)
			}
		}

		return s.createLinks(tx, dstDesignID, newEdges)
	})
	if err != nil {
		return fmt.Errorf("failed to copy graph %d -> %d: %w", srcDesignID, dstDesignID, err)
	}

	s.logger.Info("Graph copied", "src_design_id", srcDesignID, "dst_design_id", dstDesignID)
	return nil
}

// DeleteGraph removes every record belonging to a design
func (s *Store) DeleteGraph(ctx context.Context, designID uint) error {
	unlock := s.lockDesign(designID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("design_id = ?", designID).Delete(&NodeLink{}).Error; err != nil {
			return err
		}
		if err := tx.Where("design_id = ?", designID).Delete(&GraphEdge{}).Error; err != nil {
			return err
		}
		return tx.Where("design_id = ?", designID).Delete(&GraphNode{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete graph for design %d: %w", designID, err)
	}

	s.logger.Info("Graph deleted", "design_id", designID)
	return nil
}

// writeDocument performs the three batched writes for a document: nodes,
// edges, then derived links.
func (s *Store) writeDocument(tx *gorm.DB, designID, userID uint, doc *Document) error {
	now := time.Now().UTC()

	if len(doc.Nodes) > 0 {
		nodes := make([]GraphNode, 0, len(doc.Nodes))
		for i, n := range doc.Nodes {
			nodes = append(nodes, nodeRecord(designID, userID, n, now.Add(time.Duration(i)*time.Microsecond)))
		}
		if err := tx.Create(&nodes).Error; err != nil {
			return fmt.Errorf("failed to create nodes: %w", err)
		}
	}

	if len(doc.Edges) > 0 {
		edges := make([]GraphEdge, 0, len(doc.Edges))
		for i, e := range doc.Edges {
			edges = append(edges, edgeRecord(designID, userID, e, now.Add(time.Duration(i)*time.Microsecond)))
		}
		if err := tx.Create(&edges).Error; err != nil {
			return fmt.Errorf("failed to create edges: %w", err)
		}

		if err := s.createLinks(tx, designID, edges); err != nil {
			return err
		}
	}

	return nil
}

// createLinks materializes the directional relationships for edges whose
// source and target nodes both exist within the design. Missing endpoints
// are skipped: the edge record stays, disconnected.
func (s *Store) createLinks(tx *gorm.DB, designID uint, edges []GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}

	ids := make([]string, 0, len(edges)*2)
	for _, e := range edges {
		ids = append(ids, e.Source, e.Target)
	}

	var existing []string
	if err := tx.Model(&GraphNode{}).
		Where("design_id = ? AND id IN ?", designID, ids).
		Pluck("id", &existing).Error; err != nil {
		return fmt.Errorf("failed to resolve link endpoints: %w", err)
	}

	present := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		present[id] = struct{}{}
	}

	links := make([]NodeLink, 0, len(edges))
	for _, e := range edges {
		if _, ok := present[e.Source]; !ok {
			s.logger.Warn("Skipping link for edge with missing source node",
				"edge_id", e.ID, "source", e.Source)
			continue
		}
		if _, ok := present[e.Target]; !ok {
			s.logger.Warn("Skipping link for edge with missing target node",
				"edge_id", e.ID, "target", e.Target)
			continue
		}
		links = append(links, NodeLink{
			EdgeID:         e.ID,
			OriginalEdgeID: e.OriginalID,
			SourceID:       e.Source,
			TargetID:       e.Target,
			Label:          e.Label,
			DesignID:       designID,
		})
	}

	if len(links) > 0 {
		if err := tx.Create(&links).Error; err != nil {
			return fmt.Errorf("failed to create node links: %w", err)
		}
	}
	return nil
}

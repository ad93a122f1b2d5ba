package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dripflow/utils"

	"gorm.io/gorm"
)

// NodeType identifies the shape of a node's data payload.
type NodeType string

const (
	NodeTypeEmail      NodeType = "emailNode"
	NodeTypeDelay      NodeType = "delayNode"
	NodeTypeLeadSource NodeType = "leadSourceNode"
)

// MaxDelaySeconds bounds a single delay and the total offset of any send
// (ten years). Larger offsets overflow time.Duration arithmetic.
const MaxDelaySeconds int64 = 10 * 365 * 24 * 60 * 60

// Sequence is an automated drip sequence drawn as a graph of nodes and edges.
type Sequence struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	// Flow structure stored as JSON, nodes kept in traversal order
	Nodes []SequenceNode `gorm:"type:jsonb;serializer:json" json:"nodes"`
	Edges []SequenceEdge `gorm:"type:jsonb;serializer:json" json:"edges"`

	IsActive bool `gorm:"not null" json:"isActive"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// NodeData is the type-specific payload of a SequenceNode. Exactly one
// implementation exists per NodeType.
type NodeData interface {
	NodeType() NodeType
}

// EmailNodeData holds the message sent when the walk reaches an email node.
type EmailNodeData struct {
	Label   string `json:"label,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (EmailNodeData) NodeType() NodeType { return NodeTypeEmail }

// DelayNodeData pushes every following email further out in time.
type DelayNodeData struct {
	Label        string `json:"label,omitempty"`
	DelaySeconds int64  `json:"delaySeconds"`
}

func (DelayNodeData) NodeType() NodeType { return NodeTypeDelay }

// LeadSourceNodeData marks where leads enter the sequence. Its contents are
// kept as-is for the editor and never interpreted.
type LeadSourceNodeData map[string]interface{}

func (LeadSourceNodeData) NodeType() NodeType { return NodeTypeLeadSource }

// NodePosition is the editor canvas position of a node.
type NodePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SequenceNode represents a node in the sequence flowchart
type SequenceNode struct {
	ID       string       `json:"id"`
	Type     NodeType     `json:"type"`
	Position NodePosition `json:"position"`
	Data     NodeData     `json:"data"`
}

// SequenceEdge represents connections between nodes
type SequenceEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// NewEmailNode builds an email node.
func NewEmailNode(id, subject, body string) SequenceNode {
	return SequenceNode{ID: id, Type: NodeTypeEmail, Data: EmailNodeData{Subject: subject, Body: body}}
}

// NewDelayNode builds a delay node.
func NewDelayNode(id string, delaySeconds int64) SequenceNode {
	return SequenceNode{ID: id, Type: NodeTypeDelay, Data: DelayNodeData{DelaySeconds: delaySeconds}}
}

// NewLeadSourceNode builds a lead-source marker node.
func NewLeadSourceNode(id string) SequenceNode {
	return SequenceNode{ID: id, Type: NodeTypeLeadSource, Data: LeadSourceNodeData{}}
}

// UnmarshalJSON decodes the data payload according to the node type so that
// a node never carries a payload of the wrong shape.
func (n *SequenceNode) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       string          `json:"id"`
		Type     NodeType        `json:"type"`
		Position NodePosition    `json:"position"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	hasData := len(raw.Data) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Data), []byte("null"))

	var data NodeData
	switch raw.Type {
	case NodeTypeEmail:
		if !hasData {
			return fmt.Errorf("node %q: email node requires data", raw.ID)
		}
		var d EmailNodeData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return fmt.Errorf("node %q: invalid email data: %w", raw.ID, err)
		}
		data = d
	case NodeTypeDelay:
		if !hasData {
			return fmt.Errorf("node %q: delay node requires data", raw.ID)
		}
		var d DelayNodeData
		if err := json.Unmarshal(raw.Data, &d); err != nil {
			return fmt.Errorf("node %q: invalid delay data: %w", raw.ID, err)
		}
		if d.DelaySeconds < 0 {
			return fmt.Errorf("node %q: delaySeconds must not be negative", raw.ID)
		}
		if d.DelaySeconds > MaxDelaySeconds {
			return fmt.Errorf("node %q: delaySeconds must be at most %d", raw.ID, MaxDelaySeconds)
		}
		data = d
	case NodeTypeLeadSource:
		d := LeadSourceNodeData{}
		if hasData {
			if err := json.Unmarshal(raw.Data, &d); err != nil {
				return fmt.Errorf("node %q: invalid lead source data: %w", raw.ID, err)
			}
		}
		data = d
	default:
		return fmt.Errorf("node %q: unknown node type %q", raw.ID, raw.Type)
	}

	*n = SequenceNode{ID: raw.ID, Type: raw.Type, Position: raw.Position, Data: data}
	return nil
}

// OrderedNodes returns a copy of the nodes in stored order.
func (s *Sequence) OrderedNodes() []SequenceNode {
	nodes := make([]SequenceNode, len(s.Nodes))
	copy(nodes, s.Nodes)
	return nodes
}

// Validate checks the sequence before it is written. Nodes must be stored in
// traversal order: every edge points from an earlier node to a later one.
func (s *Sequence) Validate() error {
	var problems []string

	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}

	var totalDelay int64
	position := make(map[string]int, len(s.Nodes))
	for i, node := range s.Nodes {
		if node.ID == "" {
			problems = append(problems, fmt.Sprintf("node %d has no id", i))
			continue
		}
		if _, dup := position[node.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", node.ID))
			continue
		}
		position[node.ID] = i
		problems = append(problems, validateNode(node)...)
		if d, ok := node.Data.(DelayNodeData); ok && d.DelaySeconds > 0 && d.DelaySeconds <= MaxDelaySeconds && totalDelay <= MaxDelaySeconds {
			totalDelay += d.DelaySeconds
			if totalDelay > MaxDelaySeconds {
				problems = append(problems, fmt.Sprintf("total delay must be at most %d seconds", MaxDelaySeconds))
			}
		}
	}

	for _, edge := range s.Edges {
		src, okSrc := position[edge.Source]
		dst, okDst := position[edge.Target]
		if !okSrc {
			problems = append(problems, fmt.Sprintf("edge %q references unknown source %q", edge.ID, edge.Source))
		}
		if !okDst {
			problems = append(problems, fmt.Sprintf("edge %q references unknown target %q", edge.ID, edge.Target))
		}
		if okSrc && okDst && src >= dst {
			problems = append(problems, fmt.Sprintf("edge %q goes backwards: node %q must be stored before %q", edge.ID, edge.Source, edge.Target))
		}
	}

	if len(problems) > 0 {
		return utils.NewValidationError(problems...)
	}
	return nil
}

func validateNode(node SequenceNode) []string {
	if node.Data == nil {
		return []string{fmt.Sprintf("node %q has no data", node.ID)}
	}
	if node.Data.NodeType() != node.Type {
		return []string{fmt.Sprintf("node %q is %s but carries %s data", node.ID, node.Type, node.Data.NodeType())}
	}

	switch d := node.Data.(type) {
	case EmailNodeData:
		var problems []string
		if strings.TrimSpace(d.Subject) == "" {
			problems = append(problems, fmt.Sprintf("node %q: subject is required", node.ID))
		}
		if strings.TrimSpace(d.Body) == "" {
			problems = append(problems, fmt.Sprintf("node %q: body is required", node.ID))
		}
		return problems
	case DelayNodeData:
		if d.DelaySeconds < 0 {
			return []string{fmt.Sprintf("node %q: delaySeconds must not be negative", node.ID)}
		}
		if d.DelaySeconds > MaxDelaySeconds {
			return []string{fmt.Sprintf("node %q: delaySeconds must be at most %d", node.ID, MaxDelaySeconds)}
		}
	}
	return nil
}

// Package events defines the topics and payloads paramgraph emits and the
// publisher/subscriber interfaces that carry them.
package events

import (
	"context"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// Event topic constants
const (
	TopicWorkbookCreated = "paramgraph.workbook.created"
	TopicWorkbookDeleted = "paramgraph.workbook.deleted"
	TopicValuesComputed  = "paramgraph.values.computed"
	TopicCycleDetected   = "paramgraph.cycle.detected"
	TopicViewChanged     = "paramgraph.view.changed"

	// TopicAll matches every paramgraph topic.
	TopicAll = "paramgraph.>"
)

// Event types

type WorkbookCreated struct {
	Workbook *model.Workbook `json:"workbook"`
	Edges    int             `json:"edges"`
	Warnings int             `json:"warnings,omitempty"`
}

type WorkbookDeleted struct {
	WorkbookID string `json:"workbook_id"`
}

// ValuesComputed is emitted after a compute result has been merged.
// Values holds only the parameters whose value or error changed.
type ValuesComputed struct {
	WorkbookID string            `json:"workbook_id"`
	Sequence   uint64            `json:"sequence"`
	Applied    int               `json:"applied"`
	Failed     int               `json:"failed"`
	Values     model.ComputedMap `json:"values,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type CycleDetected struct {
	WorkbookID string     `json:"workbook_id"`
	Cycles     [][]string `json:"cycles"`
}

type ViewChanged struct {
	WorkbookID string `json:"workbook_id"`
	Mode       string `json:"mode"`
	State      string `json:"state"`
	Focal      string `json:"focal,omitempty"`
	Nodes      int    `json:"nodes"`
}

// WorkbookRef reports the workbook an event concerns.
func (e WorkbookCreated) WorkbookRef() string {
	if e.Workbook == nil {
		return ""
	}
	return e.Workbook.ID
}

func (e WorkbookDeleted) WorkbookRef() string { return e.WorkbookID }
func (e ValuesComputed) WorkbookRef() string  { return e.WorkbookID }
func (e CycleDetected) WorkbookRef() string   { return e.WorkbookID }
func (e ViewChanged) WorkbookRef() string     { return e.WorkbookID }

// WorkbookScoped is implemented by events tied to a single workbook.
type WorkbookScoped interface {
	WorkbookRef() string
}

// WorkbookRef returns the workbook event concerns, or "" when it is not
// workbook scoped.
func WorkbookRef(event any) string {
	if s, ok := event.(WorkbookScoped); ok {
		return s.WorkbookRef()
	}
	return ""
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

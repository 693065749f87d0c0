// Package realtime carries live session change notifications between processes.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

// TableLiveSessions is the only table the push channel covers.
const TableLiveSessions = "live_sessions"

// Op is the kind of change being announced.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	// OpSync announces a completed source sync; listeners reload instead of merging.
	OpSync Op = "sync"
)

// ChangeEvent is one push notification.
type ChangeEvent struct {
	Op         Op                  `json:"op"`
	Table      string              `json:"table"`
	SessionID  uuid.UUID           `json:"session_id,omitempty"`
	Session    *models.LiveSession `json:"session,omitempty"`
	SourceKind models.SourceKind   `json:"source_kind,omitempty"`
	At         time.Time           `json:"at"`
}

// Scope selects which events a subscriber receives: the whole table, or one record when SessionID is set.
type Scope struct {
	Table     string
	SessionID uuid.UUID
}

// TableScope returns a scope covering every row of the live sessions table.
func TableScope() Scope { return Scope{Table: TableLiveSessions} }

// RecordScope returns a scope covering a single session row.
func RecordScope(id uuid.UUID) Scope { return Scope{Table: TableLiveSessions, SessionID: id} }

func (s Scope) channel() string {
	table := s.Table
	if table == "" {
		table = TableLiveSessions
	}
	if s.SessionID == uuid.Nil {
		return table
	}
	return table + ":" + s.SessionID.String()
}

func (s Scope) matches(ev ChangeEvent) bool {
	if ev.Table != "" && s.Table != "" && ev.Table != s.Table {
		return false
	}
	return s.SessionID == uuid.Nil || s.SessionID == ev.SessionID
}

// Publisher announces changes.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Subscriber delivers changes for a scope until cancel is called or ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, scope Scope, handler func(ChangeEvent)) (cancel func(), err error)
}

// PubSub is both ends of the push channel.
type PubSub interface {
	Publisher
	Subscriber
}

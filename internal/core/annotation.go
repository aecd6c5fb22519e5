package core

import (
	"sync/atomic"
	"time"
)

const (
	CommentUser         = 1
	CommentDowntime     = 2
	CommentFlapping     = 3
	CommentAcknowledged = 4

	SourceInternal = 0
	SourceExternal = 1
)

// Comment is attached to a host or, when Service is set, to a service.
// Comments are immutable; removing one drops it from the store.
type Comment struct {
	ID         int64
	Author     string
	Text       string
	EntryTime  time.Time
	EntryType  int
	Persistent bool
	Source     int
	Expires    bool
	ExpireTime time.Time

	Host    *Host
	Service *Service
}

func (c *Comment) IsService() bool { return c.Service != nil }

// Downtime is a scheduled maintenance window for a host or a service.
type Downtime struct {
	ID          int64
	Author      string
	Comment     string
	EntryTime   time.Time
	StartTime   time.Time
	EndTime     time.Time
	Fixed       bool
	Duration    time.Duration
	TriggeredBy int64

	Host    *Host
	Service *Service

	active atomic.Bool
}

func (d *Downtime) IsService() bool { return d.Service != nil }

// IsActive reports whether the downtime has started and not yet ended.
func (d *Downtime) IsActive() bool { return d.active.Load() }

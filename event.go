package notify

import (
	"fmt"
	"strings"
)

// Kind classifies what happened to a path. It mirrors the taxonomy every
// backend must translate its native signals into: a small set of coarse
// categories (Access, Create, Modify, Remove, Other, Any), each carrying a
// Sub that narrows it further where the OS provides enough information to
// do so.
type Kind uint8

const (
	KindAny Kind = iota
	KindAccess
	KindCreate
	KindModify
	KindRemove
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindAccess:
		return "access"
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindRemove:
		return "remove"
	case KindOther:
		return "other"
	default:
		return "any"
	}
}

// Sub narrows a Kind. Which bits apply depends on the Kind; see the
// Access/Create/Modify/Remove constants below. A zero Sub means SubAny.
type Sub uint16

const (
	SubAny Sub = iota

	// Access
	SubAccessRead
	SubAccessOpen
	SubAccessCloseRead
	SubAccessCloseWrite
	SubAccessOther

	// Create
	SubCreateFile
	SubCreateFolder
	SubCreateOther

	// Modify
	SubModifyDataSize
	SubModifyDataContent
	SubModifyDataAny
	SubModifyMetaAccessTime
	SubModifyMetaWriteTime
	SubModifyMetaPermissions
	SubModifyMetaOwnership
	SubModifyMetaExtended
	SubModifyMetaAny
	SubModifyNameFrom
	SubModifyNameTo
	SubModifyNameBoth
	SubModifyNameAny
	SubModifyOther

	// Remove
	SubRemoveFile
	SubRemoveFolder
	SubRemoveOther
)

func (s Sub) String() string {
	switch s {
	case SubAccessRead:
		return "read"
	case SubAccessOpen:
		return "open"
	case SubAccessCloseRead:
		return "close(read)"
	case SubAccessCloseWrite:
		return "close(write)"
	case SubCreateFile:
		return "file"
	case SubCreateFolder:
		return "folder"
	case SubModifyDataSize:
		return "data(size)"
	case SubModifyDataContent:
		return "data(content)"
	case SubModifyDataAny:
		return "data"
	case SubModifyMetaAccessTime:
		return "metadata(atime)"
	case SubModifyMetaWriteTime:
		return "metadata(wtime)"
	case SubModifyMetaPermissions:
		return "metadata(permissions)"
	case SubModifyMetaOwnership:
		return "metadata(ownership)"
	case SubModifyMetaExtended:
		return "metadata(extended)"
	case SubModifyMetaAny:
		return "metadata"
	case SubModifyNameFrom:
		return "name(from)"
	case SubModifyNameTo:
		return "name(to)"
	case SubModifyNameBoth:
		return "name(both)"
	case SubModifyNameAny:
		return "name"
	case SubRemoveFile:
		return "file"
	case SubRemoveFolder:
		return "folder"
	default:
		return "any"
	}
}

// Attrs carries backend-supplied detail that doesn't fit the taxonomy
// itself: the rename cookie (when present, also surfaced as Event.Tracker),
// the raw OS event flag bitset, the process ID that caused the event (when
// the OS supplies it), a free-text source/diagnostic string, and a flag
// marking a synthetic "kernel buffer overflow" signal (see OverflowEvent).
type Attrs struct {
	Cookie    uint32
	Flags     uint32
	PID       uint32
	Source    string
	Overflow  bool
	Rescanned bool
}

// Event is a single normalized filesystem notification. Paths holds either
// one path, or exactly two for a rename with both the "from" and "to" sides
// known (in that order — see Tracker).
type Event struct {
	Kind    Kind
	Sub     Sub
	Paths   []string
	Attrs   Attrs
	Tracker uint32 // 0 means "no tracker"; use HasTracker.
}

// HasTracker reports whether this event carries a tracker id pairing it
// with a causally related event (almost always the other half of a
// rename).
func (e Event) HasTracker() bool { return e.Tracker != 0 }

// IsRename reports whether e is a two-sided rename event.
func (e Event) IsRename() bool {
	return e.Kind == KindModify && e.Sub == SubModifyNameBoth && len(e.Paths) == 2
}

// Path returns the (first) path the event concerns, or "" if Paths is
// empty.
func (e Event) Path() string {
	if len(e.Paths) == 0 {
		return ""
	}
	return e.Paths[0]
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s)", e.Kind, e.Sub)
	b.WriteString(" ")
	b.WriteString(strings.Join(e.Paths, " -> "))
	if e.Attrs.Overflow {
		b.WriteString(" [overflow]")
	}
	if e.HasTracker() {
		fmt.Fprintf(&b, " [tracker=%d]", e.Tracker)
	}
	return b.String()
}

// OverflowEvent builds the synthetic event a backend must emit when the
// kernel reports that its event queue overflowed: kind Other, with the
// Overflow attribute set, carrying whichever root path(s) are affected (may
// be empty if the backend can't narrow it down).
func OverflowEvent(paths ...string) Event {
	return Event{Kind: KindOther, Paths: paths, Attrs: Attrs{Overflow: true}}
}

// RecursiveMode selects whether a watch observes just the given path or
// its entire subtree.
type RecursiveMode uint8

const (
	NonRecursive RecursiveMode = iota
	Recursive
)

func (m RecursiveMode) String() string {
	if m == Recursive {
		return "recursive"
	}
	return "non-recursive"
}

// WatcherKind identifies which backend implementation is in use.
type WatcherKind uint8

const (
	KindInotify WatcherKind = iota
	KindKqueue
	KindFSEvents
	KindWindows
	KindPoll
)

func (k WatcherKind) String() string {
	switch k {
	case KindInotify:
		return "inotify"
	case KindKqueue:
		return "kqueue"
	case KindFSEvents:
		return "fsevents"
	case KindWindows:
		return "windows"
	case KindPoll:
		return "poll"
	default:
		return "unknown"
	}
}

package notify

// ctlOp and ctlMsg are the control-channel vocabulary shared by every
// reactor-style backend (inotify, kqueue, windows): watch/unwatch calls from
// arbitrary goroutines are serialized onto the backend's single dispatch
// thread by sending a ctlMsg and waiting on its result channel, rather than
// locking state that the dispatch thread also touches without
// synchronization.
type ctlOp int

const (
	ctlAdd ctlOp = iota
	ctlRemove
)

type ctlMsg struct {
	op     ctlOp
	path   string
	mode   RecursiveMode
	result chan error
}

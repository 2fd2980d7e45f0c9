package options

import "slices"

// Log is the undo history of an editing session: applied updates, most
// recent last, and the updates undone since the last new edit.
type Log struct {
	applied []Update
	undone  []Update
}

// Len returns the undo depth.
func (l *Log) Len() int {
	return len(l.applied)
}

// RedoLen returns how many undone updates can be redone.
func (l *Log) RedoLen() int {
	return len(l.undone)
}

// Top returns the most recently applied update.
func (l *Log) Top() (Update, bool) {
	if len(l.applied) == 0 {
		return nil, false
	}
	return l.applied[len(l.applied)-1], true
}

// Updates returns the applied updates, oldest first.
func (l *Log) Updates() []Update {
	return slices.Clone(l.applied)
}

// push records a newly applied update, merging it into the top entry when
// possible, and discards the redo history. It returns the entry now on top.
func (l *Log) push(u Update) (Update, bool) {
	l.undone = nil
	if top, ok := l.Top(); ok {
		if merged, ok := Merge(top, u); ok {
			l.applied[len(l.applied)-1] = merged
			return merged, true
		}
	}
	l.applied = append(l.applied, u)
	return u, false
}

// undo moves the top entry onto the redo stack.
func (l *Log) undo() {
	n := len(l.applied) - 1
	l.undone = append(l.undone, l.applied[n])
	l.applied = l.applied[:n]
}

func (l *Log) nextRedo() (Update, bool) {
	if len(l.undone) == 0 {
		return nil, false
	}
	return l.undone[len(l.undone)-1], true
}

// redo moves the top of the redo stack back onto the log without merging.
func (l *Log) redo() {
	n := len(l.undone) - 1
	l.applied = append(l.applied, l.undone[n])
	l.undone = l.undone[:n]
}

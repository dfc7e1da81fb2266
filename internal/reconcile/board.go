package reconcile

import (
	"errors"
	"sync"

	"github.com/advaic/reply-gateway/internal/model"
)

var (
	ErrUnknownRow = errors.New("row is not on the board")
	ErrRowPending = errors.New("row already has an action in flight")
)

// State is the per-row UI state of an approval queue entry.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateFailed  State = "failed"
)

// Row is one queue entry as the agent sees it.
type Row struct {
	Item  *model.QueueItem `json:"item"`
	State State            `json:"state"`
	Error string           `json:"error,omitempty"`
}

// Board holds the approval queue with optimistic removal. A row taken by
// Begin disappears from Visible until Resolve either drops it for good or
// restores it at its original position with its own error text.
type Board struct {
	mu       sync.Mutex
	rows     []*Row
	describe func(error) string
}

// NewBoard builds a board over a fetched queue. describe turns action errors
// into row messages.
func NewBoard(items []*model.QueueItem, describe func(error) string) *Board {
	if describe == nil {
		describe = func(err error) string { return err.Error() }
	}
	b := &Board{describe: describe}
	b.rows = toRows(items)
	return b
}

func toRows(items []*model.QueueItem) []*Row {
	rows := make([]*Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, &Row{Item: item, State: StateIdle})
	}
	return rows
}

func (b *Board) find(id string) (int, *Row) {
	for i, row := range b.rows {
		if row.Item.ID == id {
			return i, row
		}
	}
	return -1, nil
}

// Begin marks the row as in flight and hides it.
func (b *Board) Begin(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, row := b.find(id)
	if row == nil {
		return ErrUnknownRow
	}
	if row.State == StatePending {
		return ErrRowPending
	}
	row.State = StatePending
	row.Error = ""
	return nil
}

// Resolve settles an action. Success removes the row; failure brings it back
// with the error attached to that row only.
func (b *Board) Resolve(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, row := b.find(id)
	if row == nil {
		return
	}
	if err == nil {
		b.rows = append(b.rows[:i], b.rows[i+1:]...)
		return
	}
	row.State = StateFailed
	row.Error = b.describe(err)
}

// Visible returns the rows shown to the agent, in queue order.
func (b *Board) Visible() []Row {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Row, 0, len(b.rows))
	for _, row := range b.rows {
		if row.State == StatePending {
			continue
		}
		out = append(out, *row)
	}
	return out
}

// Get returns a copy of the row, pending or not.
func (b *Board) Get(id string) (Row, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, row := b.find(id)
	if row == nil {
		return Row{}, false
	}
	return *row, true
}

// Refresh replaces the board with a refetched queue. Surviving rows keep
// their error text; rows with an action in flight stay on the board even
// when the refetch no longer lists them.
func (b *Board) Refresh(items []*model.QueueItem) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := make(map[string]*Row, len(b.rows))
	for _, row := range b.rows {
		prev[row.Item.ID] = row
	}

	next := toRows(items)
	seen := make(map[string]struct{}, len(next))
	for _, row := range next {
		seen[row.Item.ID] = struct{}{}
		old, ok := prev[row.Item.ID]
		if !ok {
			continue
		}
		row.State = old.State
		row.Error = old.Error
	}
	for _, old := range b.rows {
		if _, ok := seen[old.Item.ID]; !ok && old.State == StatePending {
			next = append(next, old)
		}
	}
	b.rows = next
}

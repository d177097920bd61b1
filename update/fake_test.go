package update_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/tracker/model"
	"github.com/syssam/tracker/tracking"
	"github.com/syssam/tracker/update"
)

func shopModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.Build(
		model.Type("Customer").
			Fields(
				model.Int64("ID").Key().Generated(),
				model.String("Name"),
				model.Bytes("Version").Computed().ConcurrencyToken(),
			),
		model.Type("Order").
			Fields(
				model.Int64("ID").Key().Generated(),
				model.Int64("CustomerID"),
				model.Int64("ParentID").Optional(),
			).
			Edges(
				model.From("Customer", "Customer").Field("CustomerID").Ref("Orders"),
				model.From("Parent", "Order").Field("ParentID").Ref("Children"),
			),
		model.Type("Node").
			Fields(
				model.Int64("ID").Key().Generated(),
				model.Int64("PeerID"),
			).
			Edges(model.From("Peer", "Node").Field("PeerID")),
		model.Type("Tag").
			Fields(model.String("Name").Key()),
		model.Type("Audit").
			Fields(
				model.Int64("ID").Key(),
				model.String("Action"),
			).
			StoredProcedures(),
	)
	require.NoError(t, err)
	return m
}

func customer(id int64, name string) *model.Bag {
	values := map[string]any{"Name": name}
	if id != 0 {
		values["ID"] = id
		values["Version"] = []byte("v0")
	}
	return model.NewBag("Customer", values)
}

func order(id, customerID int64) *model.Bag {
	values := map[string]any{"CustomerID": customerID}
	if id != 0 {
		values["ID"] = id
	}
	return model.NewBag("Order", values)
}

// executed is what the fake store saw for one command.
type executed struct {
	Op     update.Operation
	Table  string
	Entry  *tracking.Entry
	Writes map[string]any
	Conds  map[string]any
}

// fakeStore generates sequential keys and "v1" versions. conflict makes a
// command affect no rows; fail makes the whole call fail.
type fakeStore struct {
	next     int64
	batches  [][]executed
	conflict func(*update.Command) bool
	fail     func(call int) error
}

func (s *fakeStore) ExecuteBatch(_ context.Context, b *update.Batch) ([]update.Result, error) {
	call := len(s.batches)
	var seen []executed
	defer func() { s.batches = append(s.batches, seen) }()
	if s.fail != nil {
		if err := s.fail(call); err != nil {
			return nil, err
		}
	}
	var out []update.Result
	for _, c := range b.Commands {
		ex := executed{Op: c.Operation, Table: c.Table, Entry: c.Entry, Writes: map[string]any{}, Conds: map[string]any{}}
		for _, cm := range c.Writes() {
			ex.Writes[cm.Column] = cm.Value
		}
		for _, cm := range c.Conditions() {
			ex.Conds[cm.Column] = cm.Original
		}
		seen = append(seen, ex)
		if s.conflict != nil && s.conflict(c) {
			return append(out, update.Result{}), nil
		}
		r := update.Result{RowsAffected: 1, Values: map[string]any{}}
		for _, cm := range c.Reads() {
			if cm.IsKey {
				s.next++
				r.Values[cm.Column] = s.next
			} else {
				r.Values[cm.Column] = []byte("v1")
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) commands() int {
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

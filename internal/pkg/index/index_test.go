package index

import (
	"testing"

	"gotest.tools/v3/assert"
)

func newBusIndex(t *testing.T) *Index {
	x := New("Bus")
	for _, idx := range []int{101, 102, 103} {
		_, err := x.Register(idx)
		assert.NilError(t, err)
	}
	return x
}

func TestRegisterResolve(t *testing.T) {
	x := newBusIndex(t)

	uid, err := x.UID(102)
	assert.NilError(t, err)
	assert.Equal(t, uid, 1)

	uids, err := x.UIDs(Ints(103, 101))
	assert.NilError(t, err)
	assert.DeepEqual(t, uids, []int{2, 0})

	_, err = x.UID(999)
	assert.ErrorIs(t, err, ErrLookup)
	assert.ErrorContains(t, err, "<Bus>")
	assert.ErrorContains(t, err, "999")
}

func TestBijection(t *testing.T) {
	x := New("PV")
	ids := []interface{}{"PV_1", 7, 2.5, "PV_2"}
	for i, idx := range ids {
		uid, err := x.Register(idx)
		assert.NilError(t, err)
		assert.Equal(t, uid, i)
	}

	seen := make(map[int]bool)
	for i, idx := range ids {
		uid, err := x.UID(idx)
		assert.NilError(t, err)
		assert.Equal(t, uid, i)
		assert.Assert(t, !seen[uid])
		seen[uid] = true
	}

	for _, idx := range ids {
		_, err := x.Register(idx)
		assert.ErrorIs(t, err, ErrDuplicateKey)
	}
	assert.Equal(t, x.Len(), len(ids))
}

func TestOrderPreservedWithRepeats(t *testing.T) {
	x := newBusIndex(t)

	uids, err := x.UIDs(Ints(103, 103, 101, 102, 101))
	assert.NilError(t, err)
	assert.DeepEqual(t, uids, []int{2, 2, 0, 1, 0})
}

func TestNestedFlatten(t *testing.T) {
	x := newBusIndex(t)

	zones := []interface{}{
		[]interface{}{101, 102},
		[]interface{}{103},
	}
	uids, err := x.UIDs(zones)
	assert.NilError(t, err)
	assert.DeepEqual(t, uids, []int{0, 1, 2})
}

func TestTypedNestedFlatten(t *testing.T) {
	x := newBusIndex(t)

	uids, err := x.UIDs([]interface{}{[]int{103, 101}, []int64{102}, 101})
	assert.NilError(t, err)
	assert.DeepEqual(t, uids, []int{2, 0, 1, 0})
}

func TestNilPropagates(t *testing.T) {
	x := newBusIndex(t)

	uid, err := x.UID(nil)
	assert.NilError(t, err)
	assert.Equal(t, uid, NoUID)

	uids, err := x.UIDs([]interface{}{102, nil})
	assert.NilError(t, err)
	assert.DeepEqual(t, uids, []int{1, NoUID})

	uids, err = x.UIDs(nil)
	assert.NilError(t, err)
	assert.Assert(t, uids == nil)

	_, err = x.Register(nil)
	assert.Assert(t, err != nil)
}

func TestNormalizeNumericIdx(t *testing.T) {
	x := newBusIndex(t)

	for _, idx := range []interface{}{102, int64(102), uint16(102), 102.0, float32(102)} {
		uid, err := x.UID(idx)
		assert.NilError(t, err)
		assert.Equal(t, uid, 1)
	}

	_, err := x.Register(101.0)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = x.UID(101.5)
	assert.ErrorIs(t, err, ErrLookup)
}

func TestIdxIsCopy(t *testing.T) {
	x := newBusIndex(t)
	ids := x.Idx()
	ids[0] = "mutated"
	assert.Equal(t, x.Idx()[0], interface{}(101))
	assert.Assert(t, x.Has(101))
}

package rollback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecute_RunsInReverseOrder(t *testing.T) {
	r := New()
	var order []int
	r.Add(func() { order = append(order, 1) })
	r.Add(func() { order = append(order, 2) })
	r.Add(func() { order = append(order, 3) })

	r.Execute()
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Equal(t, 0, r.Len())
}

func TestExecute_SwallowsPanicsAndContinuesUnwind(t *testing.T) {
	r := New()
	var ran []string
	r.Add(func() { ran = append(ran, "first") })
	r.Add(func() { panic("boom") })
	r.Add(func() { ran = append(ran, "last") })

	r.Execute()
	assert.Equal(t, []string{"last", "first"}, ran)
}

func TestClear_DiscardsWithoutRunning(t *testing.T) {
	r := New()
	ran := false
	r.Add(func() { ran = true })
	r.Clear()
	r.Execute()
	assert.False(t, ran)
	assert.Equal(t, 0, r.Len())
}

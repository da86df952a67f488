package model

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupSet_AddIsIdempotent(t *testing.T) {
	s := NewDedupSet()
	l := utrechtShop()

	assert.True(t, s.Add(l))
	assert.False(t, s.Add(l))
	assert.False(t, s.Add(l))
	assert.Equal(t, 1, s.Len())
}

func TestDedupSet_FirstOccurrenceWins(t *testing.T) {
	s := NewDedupSet()
	first := utrechtShop()
	second := utrechtShop()
	second.Street = "later copy"

	s.Add(first)
	s.Add(second)

	assert.Equal(t, "Godebaldkwartier", s.Locations()[0].Street)
}

func TestDedupSet_AddAllCountsNew(t *testing.T) {
	s := NewDedupSet()
	other := utrechtShop()
	other.Name = "Bruna Station"

	assert.Equal(t, 2, s.AddAll([]Location{utrechtShop(), other, utrechtShop()}))
	assert.Equal(t, 0, s.AddAll([]Location{other}))
}

func TestDedupSet_Concurrent(t *testing.T) {
	s := NewDedupSet()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l := utrechtShop()
				l.Name = fmt.Sprintf("shop %d", i)
				s.Add(l)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, s.Len())
}

func TestDedup(t *testing.T) {
	out := Dedup([]Location{utrechtShop(), utrechtShop()})
	assert.Len(t, out, 1)
}

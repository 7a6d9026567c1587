package cache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/narrative/cache"
	"github.com/veridoc/narrative/compliance"
)

func testInput(name, cosRef string) *compliance.Input {
	return &compliance.Input{
		WorkerName:     name,
		CoSReference:   cosRef,
		AssignmentDate: "2025-01-15",
		JobTitle:       "Software Engineer",
		SOCCode:        "2134",
		Step1Pass:      true,
		Step2Pass:      true,
		Step3Pass:      false,
		Step4Pass:      true,
		Step5Pass:      true,
		IsCompliant:    false,
		RiskLevel:      compliance.RiskMedium,
		MissingDocs:    []string{"Payslips"},
	}
}

func TestCache_PersonalizationAcrossWorkers(t *testing.T) {
	c := cache.New()

	first := testInput("Amira Hassan", "COS-111")
	second := testInput("Jan Kowalski", "COS-222")
	require.Equal(t, first.Signature(), second.Signature())

	narrative := "Assessment of Amira Hassan under COS-111: Step 3 failed. SERIOUS BREACH."
	c.Set(first, narrative)

	got, ok := c.Get(second)
	require.True(t, ok)
	assert.Contains(t, got, "Jan Kowalski")
	assert.Contains(t, got, "COS-222")
	assert.NotContains(t, got, "Amira Hassan")
	assert.NotContains(t, got, "COS-111")
}

func TestCache_MissOnDifferentSignature(t *testing.T) {
	c := cache.New()

	in := testInput("Amira Hassan", "COS-111")
	c.Set(in, "some narrative mentioning Amira Hassan")

	other := testInput("Amira Hassan", "COS-111")
	other.Step1Pass = false

	_, ok := c.Get(other)
	assert.False(t, ok)
}

// distinctInputs produces n inputs with pairwise distinct signatures.
func distinctInputs(t *testing.T, n int) []*compliance.Input {
	t.Helper()

	risks := []compliance.RiskLevel{compliance.RiskLow, compliance.RiskMedium, compliance.RiskHigh}
	inputs := make([]*compliance.Input, 0, n)

	for _, risk := range risks {
		for _, missing := range []bool{false, true} {
			for bits := 0; bits < 32; bits++ {
				in := &compliance.Input{
					WorkerName:   fmt.Sprintf("Worker %d", len(inputs)),
					CoSReference: fmt.Sprintf("COS-%04d", len(inputs)),
					Step1Pass:    bits&1 != 0,
					Step2Pass:    bits&2 != 0,
					Step3Pass:    bits&4 != 0,
					Step4Pass:    bits&8 != 0,
					Step5Pass:    bits&16 != 0,
					RiskLevel:    risk,
				}
				if missing {
					in.MissingDocs = []string{"Payslips"}
				}
				inputs = append(inputs, in)
				if len(inputs) == n {
					return inputs
				}
			}
		}
	}

	require.Len(t, inputs, n)
	return inputs
}

func TestCache_EvictsLeastHitEntry(t *testing.T) {
	c := cache.New() // capacity 100

	inputs := distinctInputs(t, 101)

	for _, in := range inputs[:100] {
		c.Set(in, "narrative for "+in.WorkerName)
	}
	require.Equal(t, 100, c.Len())

	// Bump every entry except inputs[0], which stays at zero hits.
	for _, in := range inputs[1:100] {
		_, ok := c.Get(in)
		require.True(t, ok)
	}

	c.Set(inputs[100], "narrative for "+inputs[100].WorkerName)
	assert.Equal(t, 100, c.Len())

	// The zero-hit entry is gone; everything else survives.
	_, ok := c.Get(inputs[0])
	assert.False(t, ok)

	for _, in := range inputs[1:101] {
		_, ok := c.Get(in)
		assert.True(t, ok, "entry for %s should survive eviction", in.WorkerName)
	}
}

func TestCache_EvictionTieBreaksByInsertionOrder(t *testing.T) {
	c := cache.New(cache.WithMaxEntries(2))

	inputs := distinctInputs(t, 3)
	c.Set(inputs[0], "first")
	c.Set(inputs[1], "second")

	// Both at zero hits: the older entry loses.
	c.Set(inputs[2], "third")

	_, ok := c.Get(inputs[0])
	assert.False(t, ok)
	_, ok = c.Get(inputs[1])
	assert.True(t, ok)
	_, ok = c.Get(inputs[2])
	assert.True(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	now := time.Now()
	clock := &now
	c := cache.New(cache.WithClock(func() time.Time { return *clock }))

	in := testInput("Amira Hassan", "COS-111")
	c.Set(in, "narrative mentioning Amira Hassan")

	_, ok := c.Get(in)
	require.True(t, ok)

	// Advance past the 24h TTL: the entry is lazily deleted on access.
	later := now.Add(25 * time.Hour)
	clock = &later

	_, ok = c.Get(in)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_SlotCollisionSafety(t *testing.T) {
	c := cache.New()

	// The worker name is a substring of the job title; longest-first
	// depersonalization must keep the two fields apart.
	first := testInput("Lead", "COS-111")
	first.JobTitle = "Lead Engineer"

	second := testInput("Nadia Osei", "COS-222")
	second.JobTitle = "Care Assistant"

	c.Set(first, "The role of Lead Engineer is held by Lead under COS-111.")

	got, ok := c.Get(second)
	require.True(t, ok)
	assert.Contains(t, got, "Care Assistant")
	assert.Contains(t, got, "Nadia Osei")
	assert.NotContains(t, got, "Lead")
}

func TestCache_NeverFails(t *testing.T) {
	c := cache.New()

	// Nil input and empty narrative are no-ops, not panics.
	_, ok := c.Get(nil)
	assert.False(t, ok)
	c.Set(nil, "text")
	c.Set(testInput("A", "B"), "")
	assert.Equal(t, 0, c.Len())
}

func TestCache_SetRefreshesExistingEntry(t *testing.T) {
	c := cache.New()

	in := testInput("Amira Hassan", "COS-111")
	c.Set(in, "old narrative for Amira Hassan")
	c.Set(in, "new narrative for Amira Hassan")

	got, ok := c.Get(in)
	require.True(t, ok)
	assert.Contains(t, got, "new narrative")
	assert.Equal(t, 1, c.Len())
}

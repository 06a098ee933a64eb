package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseNotation(t *testing.T) {
	cases := []struct {
		expr string
		want Notation
	}{
		{"3", Notation{Bonus: 3}},
		{"0", Notation{}},
		{"D6", Notation{Count: 1, Sides: 6}},
		{"d6", Notation{Count: 1, Sides: 6}},
		{"2D6", Notation{Count: 2, Sides: 6}},
		{"D3+1", Notation{Count: 1, Sides: 3, Bonus: 1}},
		{"2D6+2", Notation{Count: 2, Sides: 6, Bonus: 2}},
		{" D3 + 1 ", Notation{Count: 1, Sides: 3, Bonus: 1}},
	}
	for _, tc := range cases {
		got, err := ParseNotation(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestParseNotationRejectsMalformed(t *testing.T) {
	for _, expr := range []string{"", "xD6", "2D1", "D", "-1", "2D6+x", "0D6"} {
		_, err := ParseNotation(expr)
		assert.Error(t, err, expr)
	}
}

func TestNotationRollFixed(t *testing.T) {
	n, err := ParseNotation("3")
	require.NoError(t, err)
	total, rolls := n.Roll(NewSeededRoller(1))
	assert.Equal(t, 3, total)
	assert.Empty(t, rolls)
}

func TestSeededRollerIsDeterministic(t *testing.T) {
	a := NewSeededRoller(42)
	b := NewSeededRoller(42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Roll(6), b.Roll(6))
	}
}

func TestNotationRollBoundsProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := Notation{
			Count: rapid.IntRange(1, 10).Draw(rt, "count"),
			Sides: rapid.IntRange(2, 20).Draw(rt, "sides"),
			Bonus: rapid.IntRange(0, 5).Draw(rt, "bonus"),
		}
		roller := NewSeededRoller(rapid.Int64().Draw(rt, "seed"))
		total, rolls := n.Roll(roller)
		if len(rolls) != n.Count {
			rt.Fatalf("rolled %d dice, expected %d", len(rolls), n.Count)
		}
		sum := n.Bonus
		for _, v := range rolls {
			if v < 1 || v > n.Sides {
				rt.Fatalf("roll %d out of [1,%d]", v, n.Sides)
			}
			sum += v
		}
		if sum != total {
			rt.Fatalf("total %d does not match dice sum %d", total, sum)
		}
	})
}

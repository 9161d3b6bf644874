package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dsq/internal/ir"
)

func connectPlan(aliases []string, edges ...[2]string) ir.PlanSpec {
	plan := ir.PlanSpec{}
	for i, a := range aliases {
		op := "join"
		if i == 0 {
			op = "select"
		}
		plan.Containers = append(plan.Containers, ir.ContainerSpec{Alias: a, Name: a, Op: op})
	}
	for _, e := range edges {
		plan.Connects = append(plan.Connects, ir.ConditionSpec{
			Alias: e[0], Field: "id", Op: "eq", Ref: &ir.FieldRef{Alias: e[1], Field: "id"},
		})
	}
	return plan
}

func cyclePaths(cycles []Cycle) [][]string {
	out := make([][]string, len(cycles))
	for i, c := range cycles {
		out[i] = c.Path
	}
	return out
}

func TestAnalyzeCycles_NoConnects(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(ir.PlanSpec{}))
	assert.Empty(t, AnalyzeCycles(connectPlan([]string{"o", "c"})))
}

func TestAnalyzeCycles_DAG(t *testing.T) {
	plan := connectPlan([]string{"o", "a", "b", "c"},
		[2]string{"a", "o"},
		[2]string{"b", "a"},
		[2]string{"c", "a"},
		[2]string{"c", "b"},
	)
	assert.Empty(t, AnalyzeCycles(plan), "DAG should produce no cycles")
}

func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	plan := connectPlan([]string{"o", "a"}, [2]string{"a", "a"})

	cycles := AnalyzeCycles(plan)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "a"}, cycles[0].Path)
	assert.Equal(t, "connect cycle: a -> a", cycles[0].Message)
}

func TestAnalyzeCycles_TwoNodes(t *testing.T) {
	plan := connectPlan([]string{"o", "a", "b"}, [2]string{"a", "b"}, [2]string{"b", "a"})

	cycles := AnalyzeCycles(plan)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b", "a"}, cycles[0].Path)
}

func TestAnalyzeCycles_ReportsEveryCycle(t *testing.T) {
	plan := connectPlan([]string{"o", "a", "b", "x", "y", "z"},
		[2]string{"a", "o"},
		[2]string{"a", "b"},
		[2]string{"b", "a"},
		[2]string{"z", "y"},
		[2]string{"y", "x"},
		[2]string{"x", "z"},
	)

	assert.Equal(t, [][]string{
		{"a", "b", "a"},
		{"x", "z", "y", "x"},
	}, cyclePaths(AnalyzeCycles(plan)))
}

func TestAnalyzeCycles_ShortestPathThroughComponent(t *testing.T) {
	// a -> b -> c -> a and b -> a: the component is {a, b, c}, the path
	// from a returns through b alone.
	plan := connectPlan([]string{"o", "a", "b", "c"},
		[2]string{"a", "b"},
		[2]string{"b", "c"},
		[2]string{"c", "a"},
		[2]string{"b", "a"},
	)

	cycles := AnalyzeCycles(plan)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a", "b", "a"}, cycles[0].Path)
}

func TestAnalyzeCycles_IgnoresUnknownAliases(t *testing.T) {
	plan := connectPlan([]string{"o", "a"}, [2]string{"a", "ghost"}, [2]string{"ghost", "a"})
	assert.Empty(t, AnalyzeCycles(plan))
}

func TestAnalyzeCycles_Deterministic(t *testing.T) {
	plan := connectPlan([]string{"o", "p", "q", "r", "s"},
		[2]string{"p", "q"}, [2]string{"q", "p"},
		[2]string{"r", "s"}, [2]string{"s", "r"},
	)
	first := cyclePaths(AnalyzeCycles(plan))
	for range 20 {
		assert.Equal(t, first, cyclePaths(AnalyzeCycles(plan)))
	}
}

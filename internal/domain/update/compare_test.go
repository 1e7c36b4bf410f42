package update

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestIsNewer covers the strict dotted-numeric ordering of version strings.
func TestIsNewer(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		remote  string
		current string
		want    bool
	}{
		{name: "patch bump", remote: "1.3.0", current: "1.2.0", want: true},
		{name: "numeric not lexical", remote: "1.10", current: "1.9", want: true},
		{name: "reverse numeric", remote: "1.9", current: "1.10", want: false},
		{name: "equal", remote: "2.0", current: "2.0", want: false},
		{name: "equal three part", remote: "1.2.0", current: "1.2.0", want: false},
		{name: "downgrade", remote: "1.2.0", current: "1.3.0", want: false},
		{name: "v prefix", remote: "v2.1.0", current: "2.0.9", want: true},
		{name: "major bump", remote: "10.0.0", current: "9.9.9", want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := IsNewer(tc.remote, tc.current)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

// TestIsNewer_Malformed ensures malformed versions fail the check
// instead of producing an arbitrary order.
func TestIsNewer_Malformed(t *testing.T) {
	t.Parallel()

	_, err := IsNewer("not-a-version", "1.0.0")
	require.Error(t, err)

	_, err = IsNewer("1.0.0", "")
	require.Error(t, err)

	_, err = IsNewer("   ", "1.0.0")
	require.Error(t, err)
}

// TestPlan verifies ordering, lookup and operator rendering.
func TestPlan(t *testing.T) {
	t.Parallel()

	var plan Plan

	require.True(t, plan.IsEmpty())
	require.Equal(t, "all subsystems are up to date", plan.String())

	plan.Add(PlanEntry{Subsystem: SubsystemPanel, Current: "1.2.0", Target: "1.3.0"})
	plan.Add(PlanEntry{Subsystem: SubsystemRouter, Current: "2.0", Target: "2.1"})

	require.False(t, plan.IsEmpty())
	require.True(t, plan.Contains(SubsystemPanel))
	require.False(t, plan.Contains(SubsystemFirewall))

	entry := plan.Entry(SubsystemRouter)
	require.NotNil(t, entry)
	require.Equal(t, "2.1", entry.Target)

	require.Equal(t, "panel: 1.2.0 -> 1.3.0\nrouter: 2.0 -> 2.1", plan.String())
}

// TestAuxiliaryOrder pins the fixed update order of auxiliary subsystems.
func TestAuxiliaryOrder(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]Subsystem{SubsystemRouter, SubsystemFirewall, SubsystemStartup},
		AuxiliaryOrder())
}

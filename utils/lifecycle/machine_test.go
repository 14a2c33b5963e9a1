package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ugparu/gocedar/utils"
)

type light int

const (
	red light = iota
	green
	yellow
)

func (l light) String() string {
	return [...]string{"red", "green", "yellow"}[l]
}

var lightTable = Transitions[light]{
	red:    {green},
	green:  {yellow},
	yellow: {red},
}

func TestMachineTransition(t *testing.T) {
	t.Parallel()

	m := NewMachine("light", red, lightTable)
	require.NoError(t, m.Transition(green))
	require.NoError(t, m.Transition(yellow))
	require.Equal(t, yellow, m.Current())
	require.Equal(t, "light@yellow", m.String())
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	t.Parallel()

	m := NewMachine("light", red, lightTable)
	err := m.Transition(yellow)
	require.True(t, utils.IsInvalidState(err))
	require.EqualError(t, err, "light: invalid transition red -> yellow")
	require.Equal(t, red, m.Current())
}

func TestMachineRequire(t *testing.T) {
	t.Parallel()

	m := NewMachine("light", green, lightTable)
	require.NoError(t, m.Require(red, green))
	require.Error(t, m.Require(red))
	m.Force(red)
	require.True(t, m.In(red))
}

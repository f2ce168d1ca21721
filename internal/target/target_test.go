package target

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Evaneos/ssh-action/internal/errors"
)

type fakeResolver map[string]bool

func (r fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if r[host] {
		return []string{"10.0.0.1"}, nil
	}
	return nil, fmt.Errorf("no such host")
}

func TestParseHostnames(t *testing.T) {
	hosts := ParseHostnames("web-1\n\n  web-2  \nweb-1\n\t\nweb-3\n")
	assert.Equal(t, []string{"web-1", "web-2", "web-3"}, hosts)
}

func TestParseHostnames_OnlyBlank(t *testing.T) {
	assert.Empty(t, ParseHostnames("\n  \n\t\n"))
}

func TestTarget_Address(t *testing.T) {
	assert.Equal(t, "web-1:22", Target{Host: "web-1", Port: 22}.Address())
	assert.Equal(t, "10.1.2.3:2222", Target{Host: "web-1", HostName: "10.1.2.3", Port: 2222}.Address())
	assert.Equal(t, "[::1]:22", Target{Host: "::1", Port: 22}.Address())
}

func TestTarget_VerifiesHostKeys(t *testing.T) {
	assert.False(t, Target{StrictHostKeyChecking: "no"}.VerifiesHostKeys())
	assert.False(t, Target{StrictHostKeyChecking: "OFF"}.VerifiesHostKeys())
	assert.True(t, Target{StrictHostKeyChecking: "yes"}.VerifiesHostKeys())
	assert.True(t, Target{StrictHostKeyChecking: "accept-new"}.VerifiesHostKeys())
	assert.True(t, Target{}.VerifiesHostKeys())
}

func TestValidateTarget(t *testing.T) {
	assert.NoError(t, ValidateTarget(Target{Host: "web-1", Port: 22}))
	assert.Error(t, ValidateTarget(Target{Host: "", Port: 22}))
	assert.Error(t, ValidateTarget(Target{Host: "web-1; rm -rf /", Port: 22}))
	assert.Error(t, ValidateTarget(Target{Host: "web-1", Port: 70000}))
}

func TestCheckResolvable_ListsAllUnresolved(t *testing.T) {
	targets := []Target{
		{Host: "a"},
		{Host: "b"},
		{Host: "alias-c", HostName: "c"},
		{Host: "d", HostName: "192.0.2.10"},
	}

	err := CheckResolvable(context.Background(), fakeResolver{"a": true}, targets)
	require.Error(t, err)

	var phaseErr *errors.PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, errors.ResolutionKind, phaseErr.Kind)
	assert.Equal(t, []string{"b", "alias-c"}, phaseErr.Hosts())
	assert.Contains(t, err.Error(), `unable to resolve host "c"`)
}

func TestCheckResolvable_AllResolve(t *testing.T) {
	err := CheckResolvable(context.Background(), fakeResolver{"a": true, "b": true}, []Target{{Host: "a"}, {Host: "b"}})
	assert.NoError(t, err)
}

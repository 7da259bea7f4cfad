package command

import (
	"errors"
	"testing"

	"github.com/cuemby/havoc/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	info := types.NewTroubleShootingInfo()
	info.Set("pid", "4242")
	stack := "previous output"

	tests := []struct {
		name     string
		template string
		vars     Vars
		want     string
	}{
		{"no references", "uptime", Vars{}, "uptime"},
		{"arg", "echo $FI_ARG_id", Vars{Args: map[string]string{"id": "12345"}}, "echo 12345"},
		{"add info", "kill -9 $FI_ADD_INFO_pid", Vars{Info: info}, "kill -9 4242"},
		{"stack", "echo '$FI_STACK'", Vars{Stack: &stack}, "echo 'previous output'"},
		{
			"mixed",
			"$FI_ARG_bin --pid=$FI_ADD_INFO_pid --in=$FI_STACK",
			Vars{Args: map[string]string{"bin": "stress"}, Info: info, Stack: &stack},
			"stress --pid=4242 --in=previous output",
		},
		{"key ends at punctuation", "cat /tmp/$FI_ARG_id.log", Vars{Args: map[string]string{"id": "7"}}, "cat /tmp/7.log"},
		{"value is not rescanned", "echo $FI_ARG_a", Vars{Args: map[string]string{"a": "$FI_ARG_b"}}, "echo $FI_ARG_b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.template, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	vars := Vars{Args: map[string]string{"id": "12345"}}
	once, err := Resolve("echo $FI_ARG_id", vars)
	require.NoError(t, err)
	twice, err := Resolve(once, vars)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestResolveMissingReference(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     Vars
		refs     []string
	}{
		{"absent arg", "echo $FI_ARG_missing", Vars{Args: map[string]string{"id": "1"}}, []string{"$FI_ARG_missing"}},
		{"absent info", "kill $FI_ADD_INFO_pid", Vars{Info: types.NewTroubleShootingInfo()}, []string{"$FI_ADD_INFO_pid"}},
		{"nil info", "kill $FI_ADD_INFO_pid", Vars{}, []string{"$FI_ADD_INFO_pid"}},
		{"stack in first command", "echo $FI_STACK", Vars{}, []string{"$FI_STACK"}},
		{"unknown namespace", "echo $FI_ENV_HOME", Vars{}, []string{"$FI_ENV_HOME"}},
		{"empty key", "echo $FI_ARG_ done", Vars{}, []string{"$FI_ARG_"}},
		{"several", "$FI_ARG_a $FI_ARG_b", Vars{}, []string{"$FI_ARG_a", "$FI_ARG_b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.template, tt.vars)
			require.Error(t, err)

			var missing *MissingReferenceError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, tt.refs, missing.References)
			assert.Equal(t, CodeMissingReference, ErrorCode(err))
		})
	}
}

package runner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1016qqz/FlagScale/core/models"
)

func TestParseHostfile(t *testing.T) {
	in := `
# training hosts
10.0.0.1 slots=8 type=A100
10.0.0.2   slots=8   # spare

10.0.0.3
`
	nodes, err := ParseHostfile(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []models.Node{
		{ID: "10.0.0.1", Provider: models.ProviderHostfile, Address: "10.0.0.1", Slots: 8, GPUType: "A100"},
		{ID: "10.0.0.2", Provider: models.ProviderHostfile, Address: "10.0.0.2", Slots: 8},
		{ID: "10.0.0.3", Provider: models.ProviderHostfile, Address: "10.0.0.3"},
	}, nodes)
}

func TestParseHostfileErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare attribute", "10.0.0.1 slots\n", "line 1: expected key=value"},
		{"bad slots", "10.0.0.1\n10.0.0.2 slots=x\n", "line 2: invalid slots"},
		{"negative slots", "10.0.0.1 slots=-1\n", "invalid slots"},
		{"unknown attribute", "10.0.0.1 gpus=8\n", `unknown attribute "gpus"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHostfile(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseHostfileEmpty(t *testing.T) {
	nodes, err := ParseHostfile(strings.NewReader("# nothing\n\n"))
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

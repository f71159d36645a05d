package frameworks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1016qqz/FlagScale/core/models"
)

func TestSetupDistributedSingleLocalNode(t *testing.T) {
	p := &PyTorchSetup{DefaultNProcPerNode: 4}
	cfg, err := p.SetupDistributed([]models.Node{{}}, 0)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.MasterAddr)
	assert.Equal(t, DefaultMasterPort, cfg.MasterPort)
	assert.Equal(t, 1, cfg.NNodes)
	assert.Equal(t, 4, cfg.WorldSize)
	assert.Equal(t, "0,1,2,3", cfg.Nodes[0].Environment["CUDA_VISIBLE_DEVICES"])
}

func TestSetupDistributedMultiNode(t *testing.T) {
	p := &PyTorchSetup{DefaultNProcPerNode: 8}
	nodes := []models.Node{
		{Address: "10.0.0.1", Slots: 8, Provider: models.ProviderHostfile},
		{Address: "10.0.0.2", Provider: models.ProviderHostfile},
		{Address: "10.0.0.3", Slots: 2, Provider: models.ProviderHostfile},
	}
	cfg, err := p.SetupDistributed(nodes, 30000)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.MasterAddr)
	assert.Equal(t, 18, cfg.WorldSize)
	env := cfg.Nodes[2].Environment
	assert.Equal(t, "2", env["NODE_RANK"])
	assert.Equal(t, "3", env["NNODES"])
	assert.Equal(t, "30000", env["MASTER_PORT"])
	assert.Equal(t, "10.0.0.1", env["MASTER_ADDR"])

	cmd := p.LaunchCommand(cfg, cfg.Nodes[1], "train.py", map[string]string{"lr": "0.1", "config": "a.yaml"})
	assert.Equal(t,
		"torchrun --nnodes=3 --nproc_per_node=8 --node_rank=1 --master_addr=10.0.0.1 --master_port=30000 train.py --config=a.yaml --lr=0.1",
		cmd)
}

func TestSetupDistributedRejectsMixedTopology(t *testing.T) {
	p := &PyTorchSetup{}
	_, err := p.SetupDistributed(nil, 0)
	assert.ErrorContains(t, err, "no nodes")

	_, err = p.SetupDistributed([]models.Node{
		{Address: "10.0.0.1", Provider: models.ProviderAWS, Region: "us-east-1"},
		{Address: "10.0.0.2", Provider: models.ProviderAWS, Region: "us-west-2"},
	}, 0)
	assert.ErrorContains(t, err, "region us-west-2")

	_, err = p.SetupDistributed([]models.Node{{Address: "localhost"}, {Address: "10.0.0.2"}}, 0)
	assert.ErrorContains(t, err, "localhost in a 2-node job")
}

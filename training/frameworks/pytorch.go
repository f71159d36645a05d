package frameworks

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/1016qqz/FlagScale/core/models"
)

// DefaultMasterPort is the torchrun rendezvous port when none is configured
const DefaultMasterPort = 29500

// PyTorchSetup computes torchrun topology for multi-node jobs
type PyTorchSetup struct {
	// DefaultNProcPerNode applies to nodes that do not declare slots
	DefaultNProcPerNode int
}

// DistributedConfig represents distributed training configuration
type DistributedConfig struct {
	Framework  string
	MasterAddr string
	MasterPort int
	NNodes     int
	WorldSize  int
	Nodes      []NodeConfig
}

// NodeConfig represents configuration for a single node
type NodeConfig struct {
	Rank        int
	Address     string
	GPUs        int
	Environment map[string]string
}

// SetupDistributed assigns node ranks in the given order and picks rank 0
// as the rendezvous master
func (p *PyTorchSetup) SetupDistributed(nodes []models.Node, masterPort int) (*DistributedConfig, error) {
	if err := validateTopology(nodes); err != nil {
		return nil, fmt.Errorf("node topology validation failed: %w", err)
	}
	if masterPort <= 0 {
		masterPort = DefaultMasterPort
	}

	cfg := &DistributedConfig{
		Framework:  "pytorch",
		MasterAddr: rendezvousAddr(nodes[0]),
		MasterPort: masterPort,
		NNodes:     len(nodes),
		Nodes:      make([]NodeConfig, len(nodes)),
	}
	for i, node := range nodes {
		gpus := node.Slots
		if gpus <= 0 {
			gpus = p.DefaultNProcPerNode
		}
		if gpus <= 0 {
			gpus = 1
		}
		cfg.WorldSize += gpus
		cfg.Nodes[i] = NodeConfig{Rank: i, Address: node.Address, GPUs: gpus}
	}
	for i := range cfg.Nodes {
		cfg.Nodes[i].Environment = p.getEnvironment(cfg, cfg.Nodes[i])
	}
	return cfg, nil
}

func rendezvousAddr(node models.Node) string {
	if node.IsLocal() {
		return "127.0.0.1"
	}
	return node.Address
}

// getEnvironment returns environment variables for a node
func (p *PyTorchSetup) getEnvironment(cfg *DistributedConfig, node NodeConfig) map[string]string {
	devices := make([]string, node.GPUs)
	for i := range devices {
		devices[i] = strconv.Itoa(i)
	}
	return map[string]string{
		"MASTER_ADDR":          cfg.MasterAddr,
		"MASTER_PORT":          strconv.Itoa(cfg.MasterPort),
		"WORLD_SIZE":           strconv.Itoa(cfg.WorldSize),
		"NNODES":               strconv.Itoa(cfg.NNodes),
		"NODE_RANK":            strconv.Itoa(node.Rank),
		"NPROC_PER_NODE":       strconv.Itoa(node.GPUs),
		"CUDA_VISIBLE_DEVICES": strings.Join(devices, ","),
	}
}

// LaunchCommand renders the torchrun invocation for one node. args are
// passed to the entrypoint in key order as --key=value.
func (p *PyTorchSetup) LaunchCommand(cfg *DistributedConfig, node NodeConfig, entrypoint string, args map[string]string) string {
	parts := []string{
		"torchrun",
		fmt.Sprintf("--nnodes=%d", cfg.NNodes),
		fmt.Sprintf("--nproc_per_node=%d", node.GPUs),
		fmt.Sprintf("--node_rank=%d", node.Rank),
		fmt.Sprintf("--master_addr=%s", cfg.MasterAddr),
		fmt.Sprintf("--master_port=%d", cfg.MasterPort),
		entrypoint,
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("--%s=%s", k, args[k]))
	}
	return strings.Join(parts, " ")
}

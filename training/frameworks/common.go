package frameworks

import (
	"fmt"

	"github.com/1016qqz/FlagScale/core/models"
)

// validateTopology checks that all nodes share provider, region and network,
// so the rendezvous address of rank 0 is reachable from every node
func validateTopology(nodes []models.Node) error {
	if len(nodes) == 0 {
		return fmt.Errorf("no nodes")
	}

	first := nodes[0]
	for i, node := range nodes {
		if node.Provider != first.Provider {
			return fmt.Errorf("node %d has provider %s, expected %s", i, node.Provider, first.Provider)
		}
		if node.Region != first.Region {
			return fmt.Errorf("node %d has region %s, expected %s", i, node.Region, first.Region)
		}
		if node.VPC != first.VPC {
			return fmt.Errorf("node %d has VPC %s, expected %s", i, node.VPC, first.VPC)
		}
	}

	if len(nodes) > 1 {
		for i, node := range nodes {
			if node.IsLocal() {
				return fmt.Errorf("node %d is localhost in a %d-node job; use routable addresses", i, len(nodes))
			}
		}
	}
	return nil
}

package models

// Provider represents where a node was discovered
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderHostfile Provider = "hostfile"
	ProviderAWS      Provider = "aws"
)

// Node represents a compute node a job can be placed on
type Node struct {
	ID       string
	Provider Provider
	Region   string
	VPC      string
	Address  string // Address used for rendezvous (private IP for cloud nodes)
	Slots    int    // Devices per node; 0 means "use runner default"
	GPUType  string
}

// IsLocal reports whether the node refers to the current machine
func (n Node) IsLocal() bool {
	switch n.Address {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

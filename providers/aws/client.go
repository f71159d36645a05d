package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/1016qqz/FlagScale/core/models"
)

// TargetScheme prefixes a host source that is resolved through EC2 tags,
// e.g. ec2://Cluster=llama-train,Role=worker
const TargetScheme = "ec2://"

// gpusPerInstance lists accelerator counts for common GPU instance types
var gpusPerInstance = map[string]struct {
	gpus    int
	gpuType string
}{
	"p3.2xlarge":    {1, "V100"},
	"p3.8xlarge":    {4, "V100"},
	"p3.16xlarge":   {8, "V100"},
	"p3dn.24xlarge": {8, "V100"},
	"p4d.24xlarge":  {8, "A100"},
	"p4de.24xlarge": {8, "A100"},
	"p5.48xlarge":   {8, "H100"},
	"g4dn.xlarge":   {1, "T4"},
	"g4dn.12xlarge": {4, "T4"},
	"g5.xlarge":     {1, "A10G"},
	"g5.12xlarge":   {4, "A10G"},
	"g5.48xlarge":   {8, "A10G"},
}

// Client is the AWS provider client
type Client struct {
	ec2Client ec2.DescribeInstancesAPIClient
	region    string
}

// NewClient creates a client from the default credential chain. An empty
// region keeps the region the chain resolves.
func NewClient(ctx context.Context, region string) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Client{ec2Client: ec2.NewFromConfig(cfg), region: cfg.Region}, nil
}

// NewClientWithAPI wraps an existing EC2 client
func NewClientWithAPI(api ec2.DescribeInstancesAPIClient, region string) *Client {
	return &Client{ec2Client: api, region: region}
}

// IsTarget reports whether source names EC2 tag discovery
func IsTarget(source string) bool {
	return strings.HasPrefix(source, TargetScheme)
}

// ParseTarget turns "ec2://K=V,K2=V2" into tag filters
func ParseTarget(source string) (map[string]string, error) {
	if !IsTarget(source) {
		return nil, fmt.Errorf("%q is not an %s target", source, TargetScheme)
	}
	body := strings.TrimPrefix(source, TargetScheme)
	tags := make(map[string]string)
	for _, pair := range strings.Split(body, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag filter %q in %s", pair, source)
		}
		tags[k] = v
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%s names no tags", source)
	}
	return tags, nil
}

// DiscoverNodes lists running instances carrying every tag in the target.
// Nodes are ordered by private IP so ranks stay stable between calls.
func (c *Client) DiscoverNodes(ctx context.Context, source string) ([]models.Node, error) {
	tags, err := ParseTarget(source)
	if err != nil {
		return nil, err
	}

	filters := []types.Filter{{Name: aws.String("instance-state-name"), Values: []string{"running"}}}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		filters = append(filters, types.Filter{Name: aws.String("tag:" + k), Values: []string{tags[k]}})
	}

	var nodes []models.Node
	paginator := ec2.NewDescribeInstancesPaginator(c.ec2Client, &ec2.DescribeInstancesInput{Filters: filters})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				if aws.ToString(inst.PrivateIpAddress) == "" {
					continue
				}
				nodes = append(nodes, c.toNode(inst))
			}
		}
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no running instances match %s", source)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Address < nodes[j].Address })
	return nodes, nil
}

func (c *Client) toNode(inst types.Instance) models.Node {
	node := models.Node{
		ID:       aws.ToString(inst.InstanceId),
		Provider: models.ProviderAWS,
		Region:   c.region,
		VPC:      aws.ToString(inst.VpcId),
		Address:  aws.ToString(inst.PrivateIpAddress),
	}
	if info, ok := gpusPerInstance[string(inst.InstanceType)]; ok {
		node.Slots = info.gpus
		node.GPUType = info.gpuType
	}
	return node
}

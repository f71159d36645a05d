package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1016qqz/FlagScale/core/models"
)

type fakeEC2 struct {
	pages  []*ec2.DescribeInstancesOutput
	inputs []*ec2.DescribeInstancesInput
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.inputs = append(f.inputs, in)
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func instance(id, ip string, typ types.InstanceType) types.Instance {
	return types.Instance{
		InstanceId:       aws.String(id),
		PrivateIpAddress: aws.String(ip),
		VpcId:            aws.String("vpc-1"),
		InstanceType:     typ,
	}
}

func TestParseTarget(t *testing.T) {
	tags, err := ParseTarget("ec2://Cluster=llama, Role=worker")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Cluster": "llama", "Role": "worker"}, tags)

	_, err = ParseTarget("/etc/hostfile")
	assert.Error(t, err)
	_, err = ParseTarget("ec2://")
	assert.ErrorContains(t, err, "names no tags")
	_, err = ParseTarget("ec2://novalue")
	assert.ErrorContains(t, err, "invalid tag filter")
}

func TestDiscoverNodes(t *testing.T) {
	fake := &fakeEC2{pages: []*ec2.DescribeInstancesOutput{
		{
			Reservations: []types.Reservation{{Instances: []types.Instance{
				instance("i-b", "10.0.0.9", "p4d.24xlarge"),
				{InstanceId: aws.String("i-noip")},
			}}},
			NextToken: aws.String("more"),
		},
		{
			Reservations: []types.Reservation{{Instances: []types.Instance{
				instance("i-a", "10.0.0.2", "m5.large"),
			}}},
		},
	}}
	c := NewClientWithAPI(fake, "us-east-1")

	nodes, err := c.DiscoverNodes(context.Background(), "ec2://Cluster=llama")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, "i-a", nodes[0].ID)
	assert.Equal(t, 0, nodes[0].Slots)
	assert.Equal(t, models.Node{
		ID: "i-b", Provider: models.ProviderAWS, Region: "us-east-1", VPC: "vpc-1",
		Address: "10.0.0.9", Slots: 8, GPUType: "A100",
	}, nodes[1])

	require.Len(t, fake.inputs, 2)
	filters := fake.inputs[0].Filters
	require.Len(t, filters, 2)
	assert.Equal(t, "tag:Cluster", aws.ToString(filters[1].Name))
	assert.Equal(t, []string{"llama"}, filters[1].Values)
}

func TestDiscoverNodesNoMatch(t *testing.T) {
	fake := &fakeEC2{pages: []*ec2.DescribeInstancesOutput{{}}}
	_, err := NewClientWithAPI(fake, "").DiscoverNodes(context.Background(), "ec2://Cluster=none")
	assert.ErrorContains(t, err, "no running instances")
}

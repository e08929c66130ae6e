package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// autoscalingAPI is the subset of the Auto Scaling client the fleet uses.
type autoscalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	TerminateInstanceInAutoScalingGroup(ctx context.Context, params *autoscaling.TerminateInstanceInAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.TerminateInstanceInAutoScalingGroupOutput, error)
}

// ec2API is the subset of the EC2 client the fleet uses.
type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// AWSFleetConfig configures the Auto Scaling Group fleet.
type AWSFleetConfig struct {
	Region string
	Logger *slog.Logger
}

// AWSFleet implements Fleet for EC2 Auto Scaling Groups. The scale set ID is
// the ASG name; node IDs are EC2 instance IDs.
type AWSFleet struct {
	asg    autoscalingAPI
	ec2    ec2API
	logger *slog.Logger
}

// NewAWSFleet creates a fleet backed by the real AWS APIs.
func NewAWSFleet(ctx context.Context, cfg AWSFleetConfig) (*AWSFleet, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newAWSFleet(autoscaling.NewFromConfig(awsCfg), ec2.NewFromConfig(awsCfg), cfg.Logger), nil
}

func newAWSFleet(asg autoscalingAPI, ec2c ec2API, logger *slog.Logger) *AWSFleet {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSFleet{asg: asg, ec2: ec2c, logger: logger}
}

// ListNodes joins ASG membership with EC2 instance state.
func (f *AWSFleet) ListNodes(ctx context.Context, scaleSetID string) ([]Node, error) {
	out, err := f.asg.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{scaleSetID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe ASG %q: %w", scaleSetID, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrScaleSetNotFound, scaleSetID)
	}

	members := out.AutoScalingGroups[0].Instances
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		if id := aws.ToString(m.InstanceId); id != "" {
			ids = append(ids, id)
		}
	}

	details := make(map[string]ec2types.Instance, len(ids))
	input := &ec2.DescribeInstancesInput{InstanceIds: ids}
	for {
		result, err := f.ec2.DescribeInstances(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances of ASG %q: %w", scaleSetID, err)
		}
		for _, r := range result.Reservations {
			for _, inst := range r.Instances {
				details[aws.ToString(inst.InstanceId)] = inst
			}
		}
		if result.NextToken == nil {
			break
		}
		input.NextToken = result.NextToken
	}

	nodes := make([]Node, 0, len(members))
	for _, m := range members {
		id := aws.ToString(m.InstanceId)
		if id == "" {
			continue
		}
		inst, ok := details[id]
		if !ok {
			f.logger.Warn("ASG member missing from EC2 describe", "scale_set", scaleSetID, "node_id", id)
		}
		nodes = append(nodes, nodeFromAWS(m, inst, ok))
	}
	return nodes, nil
}

// RemoveNode terminates the instance and shrinks the group's desired capacity.
func (f *AWSFleet) RemoveNode(ctx context.Context, scaleSetID, nodeID string) error {
	_, err := f.asg.TerminateInstanceInAutoScalingGroup(ctx, &autoscaling.TerminateInstanceInAutoScalingGroupInput{
		InstanceId:                     aws.String(nodeID),
		ShouldDecrementDesiredCapacity: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s in ASG %s: %w", nodeID, scaleSetID, err)
	}

	f.logger.Info("terminated instance in ASG",
		"scale_set", scaleSetID,
		"node_id", nodeID,
	)
	return nil
}

// nodeFromAWS converts an ASG member and its EC2 description into a Node.
func nodeFromAWS(member astypes.Instance, inst ec2types.Instance, described bool) Node {
	id := aws.ToString(member.InstanceId)
	node := Node{
		ID:           id,
		ComputerName: id,
		InstanceName: id,
		OSType:       OSLinux,
	}
	if !described {
		node.OSType = OSUnknown
		node.PowerState = powerStateFromLifecycle(member.LifecycleState, PowerStateUnknown)
		return node
	}

	if host := hostFromDNS(aws.ToString(inst.PrivateDnsName)); host != "" {
		node.ComputerName = host
	}
	if strings.EqualFold(string(inst.Platform), string(ec2types.PlatformValuesWindows)) {
		node.OSType = OSWindows
	}

	state := PowerStateUnknown
	if inst.State != nil {
		state = powerStateFromEC2(inst.State.Name)
	}
	node.PowerState = powerStateFromLifecycle(member.LifecycleState, state)
	return node
}

func powerStateFromEC2(name ec2types.InstanceStateName) PowerState {
	switch name {
	case ec2types.InstanceStateNamePending:
		return PowerStateStarting
	case ec2types.InstanceStateNameRunning:
		return PowerStateRunning
	case ec2types.InstanceStateNameStopping, ec2types.InstanceStateNameShuttingDown:
		return PowerStateDeallocating
	case ec2types.InstanceStateNameStopped:
		return PowerStateStopped
	case ec2types.InstanceStateNameTerminated:
		return PowerStateDeallocated
	default:
		return PowerStateUnknown
	}
}

// powerStateFromLifecycle lets ASG lifecycle transitions override EC2 state.
func powerStateFromLifecycle(lifecycle astypes.LifecycleState, fallback PowerState) PowerState {
	s := string(lifecycle)
	switch {
	case strings.HasPrefix(s, "Terminating"), strings.HasPrefix(s, "Detach"):
		return PowerStateDeallocating
	case strings.HasPrefix(s, "Pending"):
		return PowerStateStarting
	default:
		return fallback
	}
}

// hostFromDNS returns the first label of a private DNS name.
func hostFromDNS(dns string) string {
	host, _, _ := strings.Cut(dns, ".")
	return host
}

// Compile-time interface check.
var _ Fleet = (*AWSFleet)(nil)

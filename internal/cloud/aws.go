// SPDX-License-Identifier: MPL-2.0

package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// LoadConfig loads the SDK configuration from the default local chain
// (environment, shared config and credentials files, SSO, instance roles).
// Empty region or profile leave the chain's own resolution in place.
func LoadConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load cloud configuration: %w", err)
	}
	return cfg, nil
}

// NewFromConfig wires an Assembler and Broker to real SDK clients.
func NewFromConfig(cfg aws.Config) (*Assembler, *Broker) {
	return NewAssembler(lambda.NewFromConfig(cfg)), NewBroker(sts.NewFromConfig(cfg), cfg.Credentials)
}

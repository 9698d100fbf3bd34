// SPDX-License-Identifier: MPL-2.0

package cloud

import (
	"context"
	"fmt"
	"maps"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/stackbind/stackbind/internal/metadata"
)

type (
	// FunctionConfigAPI is the Lambda call the Assembler depends on.
	FunctionConfigAPI interface {
		GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
	}

	// Assembler builds Bindings from site records.
	Assembler struct {
		lambda FunctionConfigAPI
	}
)

// NewAssembler creates an Assembler using the given Lambda client.
func NewAssembler(api FunctionConfigAPI) *Assembler {
	return &Assembler{lambda: api}
}

// Assemble returns the static environment of a static site, or fetches the
// live configuration of a server-rendered site's function. Control-plane
// errors are returned to the caller without retrying.
func (a *Assembler) Assemble(ctx context.Context, res metadata.Resource) (Binding, error) {
	if !res.Kind.IsServerRendered() {
		return Binding{Envs: maps.Clone(res.Environment), Secrets: map[string]struct{}{}}, nil
	}

	out, err := a.lambda.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: aws.String(res.Server),
	})
	if err != nil {
		return Binding{}, fmt.Errorf("fetch configuration of function %q: %w", res.Server, err)
	}

	envs := map[string]string{}
	if out.Environment != nil {
		envs = maps.Clone(out.Environment.Variables)
		if envs == nil {
			envs = map[string]string{}
		}
	}

	return Binding{
		Envs:    envs,
		Role:    aws.ToString(out.Role),
		Secrets: secretSet(res.Secrets),
	}, nil
}

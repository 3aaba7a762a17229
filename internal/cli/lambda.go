package cli

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
)

// NewLambdaCommand creates the lambda command, which serves API Gateway
// proxy events instead of listening on a socket.
func NewLambdaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda behind API Gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.handler()
			if err != nil {
				return err
			}
			lambda.Start(h.Handle)
			return nil
		},
	}
}

// Package paramstore reads the record encryption key from AWS Systems
// Manager Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client fetches SecureString parameters.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// SecureString returns the decrypted value of the named parameter. Plain
// String parameters are refused so a key is never stored unencrypted.
func (c *Client) SecureString(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	if t := out.Parameter.Type; t != "" && t != types.ParameterTypeSecureString {
		return "", fmt.Errorf("paramstore: parameter %q is %s, want %s", name, t, types.ParameterTypeSecureString)
	}
	return strings.TrimSpace(*out.Parameter.Value), nil
}

// KeyLoader fetches an encoded key and decodes it with parse.
type KeyLoader struct {
	client *Client
	parse  func(string) ([]byte, error)
}

// NewKeyLoader pairs a Client with the decoder for the stored text.
func NewKeyLoader(client *Client, parse func(string) ([]byte, error)) (*KeyLoader, error) {
	if client == nil {
		return nil, errors.New("paramstore: client must not be nil")
	}
	if parse == nil {
		return nil, errors.New("paramstore: parse must not be nil")
	}
	return &KeyLoader{client: client, parse: parse}, nil
}

// Load returns the decoded key held in the named parameter.
func (l *KeyLoader) Load(ctx context.Context, name string) ([]byte, error) {
	v, err := l.client.SecureString(ctx, name)
	if err != nil {
		return nil, err
	}
	key, err := l.parse(v)
	if err != nil {
		return nil, fmt.Errorf("paramstore: parameter %q: %w", name, err)
	}
	return key, nil
}

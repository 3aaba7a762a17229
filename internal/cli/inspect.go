package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"unison-context/internal/codec"
	"unison-context/internal/domain"
	"unison-context/internal/kvtable"
)

var errNoKey = errors.New("record is encrypted but no key is configured")

type inspectOptions struct {
	kind      string
	partition string
	sort      string
}

// NewInspectCommand creates the inspect command. It reads one stored payload
// directly from the table, bypassing the access policy, and prints it
// decoded. It is an operator tool.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decode and print one stored record",
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

			key := kvtable.Key{Kind: domain.Kind(opts.kind), Partition: opts.partition, Sort: opts.sort}
			raw, err := a.table.Get(cmd.Context(), key)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", key, err)
			}
			return printRecord(cmd.OutOrStdout(), a.codec, key, raw)
		},
	}

	cmd.Flags().StringVar(&opts.kind, "kind", "", "record kind (profile|dashboard|session|kv)")
	cmd.Flags().StringVar(&opts.partition, "partition", "", "person id, or namespace for kv")
	cmd.Flags().StringVar(&opts.sort, "sort", "", "session id, or entry key for kv")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("partition")

	return cmd
}

func printRecord(w io.Writer, c *codec.Codec, key kvtable.Key, raw []byte) error {
	encoding := "plain"
	if codec.LooksEncrypted(raw) {
		encoding = "encrypted"
	}
	fmt.Fprintf(w, "key: %s\nencoding: %s\nbytes: %d\n", key, encoding, len(raw))

	if encoding == "encrypted" && !c.Encrypted() {
		return errNoKey
	}

	var v any
	if err := c.Decode(key.Binding(), raw, &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
	return err
}

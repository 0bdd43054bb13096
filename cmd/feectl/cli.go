package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/canopy-network/feeledger/pkg/feeclient"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
)

// Environment variables that can be used instead of flags
const (
	FeectlServer = "FEECTL_SERVER"
	FeectlToken  = "FEECTL_TOKEN"
)

type options struct {
	server  string
	token   string
	timeout time.Duration
}

func (o *options) client() *feeclient.Client {
	server, token := o.server, o.token
	if server == "" {
		server = os.Getenv(FeectlServer)
	}
	if server == "" {
		server = "http://localhost:3000"
	}
	if token == "" {
		token = os.Getenv(FeectlToken)
	}
	return feeclient.New(server, token, nil)
}

func flags(o *options) *flag.FlagSet {
	fs := &flag.FlagSet{}
	fs.StringVar(&o.server, "server", "", "fee ledger API base URL (default $"+FeectlServer+" or http://localhost:3000)")
	fs.StringVar(&o.token, "token", "", "admin API token (default $"+FeectlToken+")")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "request timeout")
	return fs
}

// command returns the feectl root command.
func command() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:           "feectl",
		Short:         "Query and operate a fee ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().AddFlagSet(flags(o))

	cmd.AddCommand(
		feeCmd(o),
		redeemableCmd(o),
		redeemedCmd(o),
		redeemCmd(o),
		resetFeeCmd(o),
		stateCmd(o),
		depositCmd(o),
		eventsCmd(o),
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%q is not a decimal amount: %w", s, err)
	}
	return v, nil
}

func feeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fee",
		Short: "Show the current fee per claim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd, o)
			defer cancel()
			fee, err := o.client().FeePerClaim(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fee)
		},
	}
}

func redeemableCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "redeemable <validator>",
		Short: "Show how many claims a validator can still redeem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, o)
			defer cancel()
			n, err := o.client().RedeemableCount(ctx, addr)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}
}

func redeemedCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "redeemed <validator>",
		Short: "Show how many claims a validator has been paid for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, o)
			defer cancel()
			n, err := o.client().RedeemedCount(ctx, addr)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}
}

func redeemCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <validator>",
		Short: "Pay a validator for its outstanding claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, o)
			defer cancel()
			red, err := o.client().RedeemFee(ctx, addr)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), red)
		},
	}
}

func resetFeeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-fee <fee-per-claim>",
		Short: "Settle every validator and set a new fee per claim (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fee, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, o)
			defer cancel()
			out, err := o.client().ResetFeePerClaim(ctx, fee)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func stateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the price, pool balance and per-validator accounting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd, o)
			defer cancel()
			st, err := o.client().State(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func depositCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Credit the fee pool (store-backed tokens only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, o)
			defer cancel()
			out, err := o.client().Deposit(ctx, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func eventsCmd(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List audit log entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withTimeout(cmd, o)
			defer cancel()
			evs, err := o.client().Events(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), evs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	return cmd
}

func withTimeout(cmd *cobra.Command, o *options) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}

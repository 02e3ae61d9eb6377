// cloakpay CLI - private payments over compressed value accounts.
//
// Example usage:
//
//	# Show public and private balances
//	cloakpay balance
//
//	# Move 1.5 units into the private domain
//	cloakpay hide 1.5
//
//	# Pay privately, with auto top-up from the public balance
//	cloakpay pay <recipient> 0.25 --memo "coffee"
//
//	# Pay a batch of recipients sequentially
//	cloakpay batch --to <recipient>:0.1 --to <recipient>:0.2
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloaklabs/cloakpay/pkg/account"
	"github.com/cloaklabs/cloakpay/pkg/config"
	"github.com/cloaklabs/cloakpay/pkg/keys"
	"github.com/cloaklabs/cloakpay/pkg/ledger"
	"github.com/cloaklabs/cloakpay/pkg/ops"
	"github.com/cloaklabs/cloakpay/pkg/payment"
	"github.com/cloaklabs/cloakpay/pkg/payurl"
	"github.com/cloaklabs/cloakpay/pkg/prover"
	"github.com/cloaklabs/cloakpay/pkg/rpc"
)

var (
	Version = "dev"
	Commit  = "none"
)

// runtime bundles the wired collaborators for one invocation.
type runtime struct {
	cfg          *config.Config
	client       *rpc.Client
	engine       *ops.Engine
	topup        *payment.TopUp
	orchestrator *payment.Orchestrator
	store        ledger.Store
	cleanup      func()
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "cloakpay",
		Short: "Private payments over compressed value accounts",
		Long: `cloakpay sends value-hidden payments on a public ledger using a
zero-knowledge account-compression layer. Balances live in opaque value
accounts; payments select and consume them whole, with automatic top-up
from the public balance when the private side runs short.`,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cloakpay.yaml", "config file path")

	rootCmd.AddCommand(
		balanceCmd(&configPath),
		hideCmd(&configPath),
		claimCmd(&configPath),
		payCmd(&configPath),
		batchCmd(&configPath),
		parseURICmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and wires the collaborators.
func setup(ctx context.Context, configPath string) (*runtime, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.KeypairPath == "" {
		return nil, fmt.Errorf("no keypair configured (set keypair_path or CLOAKPAY_KEYPAIR)")
	}

	kp, err := keys.Load(cfg.KeypairPath)
	if err != nil {
		return nil, err
	}

	var clientOpts []rpc.Option
	clientOpts = append(clientOpts, rpc.WithLogger(logger))
	if cfg.WSURL != "" {
		clientOpts = append(clientOpts, rpc.WithWebsocket(cfg.WSURL))
	}
	client := rpc.New(cfg.RPCURL, clientOpts...)
	prv := prover.New(cfg.ProverURL)

	engine := ops.NewEngine(client, client, prv, kp, rpc.CommitmentLevel(cfg.Commitment), logger)

	paymentCfg := cfg.PaymentConfig()
	topup := payment.NewTopUp(client, engine, paymentCfg, logger)

	fees := payment.FeePolicy{
		Enabled:   cfg.Fees.Enabled,
		RateNum:   cfg.Fees.RateNum,
		RateDen:   cfg.Fees.RateDen,
		FeeWallet: keys.Identity(cfg.Fees.Wallet),
	}

	rt := &runtime{cfg: cfg, client: client, engine: engine, topup: topup, cleanup: func() {}}

	if cfg.DatabaseURL != "" {
		pg, err := ledger.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.store = pg
		rt.cleanup = pg.Close
	} else {
		rt.store = ledger.NewMemoryStore()
	}

	rt.orchestrator = payment.NewOrchestrator(engine, topup, fees, rt.store, paymentCfg, logger)
	return rt, nil
}

func balanceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show public and private balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.cleanup()
			owner := rt.engine.Owner()

			public, err := rt.client.GetPublicBalance(cmd.Context(), owner)
			if err != nil {
				return err
			}
			accounts, err := rt.client.GetCompressedAccountsByOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}

			fmt.Printf("Identity: %s\n", owner)
			fmt.Printf("Public:   %s\n", payurl.FromBaseUnits(public))
			fmt.Printf("Private:  %s (%d accounts)\n", payurl.FromBaseUnits(account.Sum(accounts)), len(accounts))
			return nil
		},
	}
}

func hideCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "hide <amount>",
		Short: "Move public balance into the private domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := payurl.ToBaseUnits(args[0])
			if err != nil {
				return err
			}
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.cleanup()

			sig, err := rt.engine.Hide(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Printf("Hidden %s, signature %s\n", args[0], sig)
			return nil
		},
	}
}

func claimCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <amount>",
		Short: "Move private balance back to the public domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := payurl.ToBaseUnits(args[0])
			if err != nil {
				return err
			}
			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.cleanup()

			sig, err := rt.engine.Claim(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Printf("Claimed %s, signature %s\n", args[0], sig)
			return nil
		},
	}
}

func payCmd(configPath *string) *cobra.Command {
	var memo, uri string

	cmd := &cobra.Command{
		Use:   "pay [recipient amount]",
		Short: "Send a private payment, topping up from the public balance if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			var recipient keys.Identity
			var amount uint64
			var err error

			switch {
			case uri != "":
				req, err := payurl.Parse(uri)
				if err != nil {
					return err
				}
				if !req.HasAmount {
					return fmt.Errorf("payment request has no amount; pass recipient and amount explicitly")
				}
				recipient, amount = req.Recipient, req.Amount
				if memo == "" {
					memo = req.Message
				}
			case len(args) == 2:
				recipient = keys.Identity(args[0])
				amount, err = payurl.ToBaseUnits(args[1])
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("pass a recipient and amount, or --uri")
			}

			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.cleanup()

			invoice := ledger.NewInvoice(rt.engine.Owner(), recipient, amount, memo)
			out, err := rt.orchestrator.Pay(cmd.Context(), invoice)
			if err != nil {
				return err
			}

			fmt.Printf("Paid %s to %s, signature %s\n", payurl.FromBaseUnits(amount), recipient, out.Signature)
			if out.FeeError != nil {
				fmt.Printf("Warning: fee leg failed: %v\n", out.FeeError)
			} else if out.Fee > 0 {
				fmt.Printf("Fee %s, signature %s\n", payurl.FromBaseUnits(out.Fee), out.FeeSignature)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "invoice memo")
	cmd.Flags().StringVar(&uri, "uri", "", "cloak: payment request URI")
	return cmd
}

func batchCmd(configPath *string) *cobra.Command {
	var to []string
	var tag string

	cmd := &cobra.Command{
		Use:   "batch --to recipient:amount [--to recipient:amount ...]",
		Short: "Send a batch of private payments sequentially",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(to) == 0 {
				return fmt.Errorf("at least one --to recipient:amount is required")
			}

			requests := make([]payment.TransferRequest, 0, len(to))
			for _, pair := range to {
				i := strings.LastIndexByte(pair, ':')
				if i <= 0 || i == len(pair)-1 {
					return fmt.Errorf("malformed --to %q, want recipient:amount", pair)
				}
				amount, err := payurl.ToBaseUnits(pair[i+1:])
				if err != nil {
					return fmt.Errorf("malformed --to %q: %w", pair, err)
				}
				requests = append(requests, payment.TransferRequest{
					Destination: keys.Identity(pair[:i]),
					Amount:      amount,
				})
			}

			rt, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.cleanup()

			out, err := rt.orchestrator.ExecuteBatch(cmd.Context(), payment.BatchRequest{Requests: requests, Tag: tag})
			if err != nil {
				return err
			}

			fmt.Printf("Batch %s: %s\n", out.ID, out.Status)
			for _, r := range out.Recipients {
				if r.Status == payment.RecipientPaid {
					fmt.Printf("  %s %s paid (%s)\n", r.Request.Destination, payurl.FromBaseUnits(r.Request.Amount), r.Signature)
				} else {
					fmt.Printf("  %s %s failed after %d attempts: %s\n",
						r.Request.Destination, payurl.FromBaseUnits(r.Request.Amount), r.Attempts, r.Classification)
				}
			}
			if out.Status != payment.BatchCompleted {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&to, "to", nil, "recipient:amount (repeatable)")
	cmd.Flags().StringVar(&tag, "tag", "", "batch grouping tag")
	return cmd
}

func parseURICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-uri <uri>",
		Short: "Parse a cloak: payment request URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := payurl.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Recipient: %s\n", req.Recipient)
			if req.HasAmount {
				fmt.Printf("Amount:    %s\n", payurl.FromBaseUnits(req.Amount))
			} else {
				fmt.Println("Amount:    (payer specifies)")
			}
			if req.Label != "" {
				fmt.Printf("Label:     %s\n", req.Label)
			}
			if req.Message != "" {
				fmt.Printf("Message:   %s\n", req.Message)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cloakpay %s (%s)\n", Version, Commit)
		},
	}
}

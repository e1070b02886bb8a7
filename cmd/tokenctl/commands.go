package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/tokenledger/pkg/client"
	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
	"example.com/tokenledger/pkg/watch"
)

type options struct {
	server     string
	network    string
	walletPath string
	timeout    time.Duration
	verbose    bool
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "tokenctl",
		Short:         "Query and transfer tokens on a tokend ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", getEnv("TOKENCTL_SERVER", "http://localhost:8080"), "tokend base URL")
	root.PersistentFlags().StringVar(&opts.network, "network", getEnv("TOKENCTL_NETWORK", "local"), "expected network identifier")
	root.PersistentFlags().StringVar(&opts.walletPath, "wallet", getEnv("TOKENCTL_WALLET", "wallet.pem"), "wallet file")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "HTTP timeout")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log polling errors")

	root.AddCommand(
		newWalletCmd(opts),
		newTokenCmd(opts),
		newBalanceCmd(opts),
		newTransferCmd(opts),
		newTransfersCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func (o *options) client() *client.Client {
	return client.New(o.server, &http.Client{Timeout: o.timeout})
}

func (o *options) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func newWalletCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the local wallet",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "new",
			Short: "Create a wallet file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := os.Stat(opts.walletPath); err == nil {
					return errors.Errorf("%s already exists", opts.walletPath)
				}
				w, err := wallet.NewWallet()
				if err != nil {
					return err
				}
				if err := w.BackupWallet(opts.walletPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), w.Address())
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the wallet address",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				w, err := wallet.RestoreWallet(opts.walletPath)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), w.Address())
				return nil
			},
		},
	)
	return cmd
}

func newTokenCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show token metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()

			info, err := opts.client().Token(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "name:         %s\n", info.Name)
			fmt.Fprintf(out, "symbol:       %s\n", info.Symbol)
			fmt.Fprintf(out, "decimals:     %d\n", info.Decimals)
			fmt.Fprintf(out, "total supply: %d\n", info.TotalSupply)
			fmt.Fprintf(out, "owner:        %s\n", info.Owner)
			fmt.Fprintf(out, "network:      %s\n", info.Network)
			return nil
		},
	}
}

// addressArg resolves an address argument, falling back to the local wallet.
func (o *options) addressArg(args []string) (wallet.Address, error) {
	if len(args) > 0 {
		return wallet.ParseAddress(args[0])
	}
	w, err := wallet.RestoreWallet(o.walletPath)
	if err != nil {
		return wallet.ZeroAddress, err
	}
	return w.Address(), nil
}

func newBalanceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show the balance of an address (default: own wallet)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := opts.addressArg(args)
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()

			bal, err := opts.client().BalanceOf(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", addr, bal)
			return nil
		},
	}
}

// confirm asks the holder to authorize a transfer. Anything but "y" or
// "yes" is a rejection.
func confirm(in io.Reader, out io.Writer, to wallet.Address, amount uint64, symbol string) error {
	fmt.Fprintf(out, "Send %d %s to %s? [y/N] ", amount, symbol, to)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	}
	return watch.ErrUserRejected
}

func newTransferCmd(opts *options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "transfer <to> <amount>",
		Short: "Send tokens from the local wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := wallet.ParseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			w, err := wallet.RestoreWallet(opts.walletPath)
			if err != nil {
				return err
			}

			c := opts.client()

			ctx, cancel := opts.ctx(cmd)
			info, err := c.EnsureNetwork(ctx, opts.network)
			cancel()
			if err != nil {
				if errors.Is(err, client.ErrNetworkMismatch) {
					return errors.Errorf("switch to network %q (use --network) before transferring", info.Network)
				}
				return err
			}

			// The prompt waits on the user, so --timeout only bounds the
			// request that follows it.
			var tracker watch.Tracker
			rec, committed, err := tracker.Submit(cmd.Context(), func(ctx context.Context) (tokens.Transfer, error) {
				if !yes {
					if err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), to, amount, info.Symbol); err != nil {
						return tokens.Transfer{}, err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "pending...")

				ctx, cancel := context.WithTimeout(ctx, opts.timeout)
				defer cancel()
				return c.Transfer(ctx, w, opts.network, to, amount)
			})
			switch {
			case errors.Is(err, tokens.ErrInsufficientBalance):
				return errors.New("not enough tokens")
			case errors.Is(err, tokens.ErrInvalidRecipient):
				return errors.New("invalid recipient")
			case err != nil:
				return err
			}
			if committed {
				fmt.Fprintf(cmd.OutOrStdout(), "transfer #%d: %s -> %s %d\n", rec.Seq, rec.From, rec.To, rec.Amount)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newTransfersCmd(opts *options) *cobra.Command {
	var since uint64

	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "List committed transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()

			recs, err := opts.client().Transfers(ctx, since)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%d\n", rec.Seq, rec.From, rec.To, rec.Amount)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "only list transfers after this sequence number")
	return cmd
}

func newWatchCmd(opts *options) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch [address]",
		Short: "Poll a balance until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := opts.addressArg(args)
			if err != nil {
				return err
			}

			log := zap.NewNop()
			if opts.verbose {
				if log, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var last *uint64
			p := watch.NewPoller(opts.client(), addr, interval, func(u watch.Update) {
				if last != nil && *last == u.Balance {
					return
				}
				bal := u.Balance
				last = &bal
				fmt.Fprintf(out, "%s %s %d\n", u.At.Format(time.RFC3339), u.Address, u.Balance)
			}, log)

			p.Start(ctx)
			<-ctx.Done()
			p.Stop()
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", watch.DefaultInterval, "poll interval")
	return cmd
}

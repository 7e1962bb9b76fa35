package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"threatmesh/internal/api/dto"
	"threatmesh/internal/app/version"
	"threatmesh/internal/auth"
	"threatmesh/internal/commitment"
	"threatmesh/internal/domain"
)

const (
	defaultServerURL = "http://localhost:8082"
	serverEnvKey     = "THREATMESH_URL"
	tokenEnvKey      = "THREATMESH_TOKEN"
)

type rootFlags struct {
	server string
	token  string
}

func (f *rootFlags) client() *Client {
	return NewClient(f.server, f.token)
}

func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "threatctl",
		Short:         "Report and govern threats on a threatmesh node",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.server, "server", envOr(serverEnvKey, defaultServerURL), "Node API URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv(tokenEnvKey), "Bearer token")

	root.AddCommand(
		hashCommand(),
		commitCommand(flags),
		revealCommand(flags),
		revokeCommand(flags),
		statusCommand(flags),
		whitelistCommand(flags),
		forceCommand(flags),
		tokenCommand(),
	)
	return root
}

func hashCommand() *cobra.Command {
	var salt, reporter string
	c := &cobra.Command{
		Use:   "hash <ip>",
		Short: "Print the address hash, and the commitment key when --salt and --reporter are set",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			address, err := domain.CanonicalAddress(args[0])
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			ipHash := domain.HashAddress(address)
			printField(out, "ip hash", ipHash.Hex())
			if salt != "" && reporter != "" {
				printField(out, "commitment key", commitment.DeriveKey(ipHash, salt, reporter).Hex())
			}
			return nil
		},
	}
	c.Flags().StringVar(&salt, "salt", "", "Commitment salt")
	c.Flags().StringVar(&reporter, "reporter", "", "Reporter id")
	return c
}

func commitCommand(flags *rootFlags) *cobra.Command {
	var salt string
	c := &cobra.Command{
		Use:   "commit <ip>",
		Short: "Commit to a threat without disclosing the address",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			address, err := domain.CanonicalAddress(args[0])
			if err != nil {
				return err
			}
			if salt == "" {
				salt = uuid.NewString()
			}
			resp, err := flags.client().Commit(c.Context(), dto.CommitRequest{
				IPHash: domain.HashAddress(address).Hex(),
				Salt:   salt,
			})
			if err != nil {
				return err
			}
			out := c.OutOrStdout()
			okColor.Fprintln(out, "Committed")
			printField(out, "commitment key", resp.CommitmentKey)
			printField(out, "salt", salt)
			printField(out, "seq", resp.Seq)
			warnColor.Fprintln(out, "Keep the salt; it is required to reveal.")
			return nil
		},
	}
	c.Flags().StringVar(&salt, "salt", "", "Commitment salt (random when empty)")
	return c
}

func revealCommand(flags *rootFlags) *cobra.Command {
	var req dto.RevealRequest
	c := &cobra.Command{
		Use:   "reveal <ip>",
		Short: "Reveal a committed threat with its evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if req.Salt == "" {
				return errors.New("--salt is required")
			}
			req.Address = args[0]
			status, err := flags.client().Reveal(c.Context(), req)
			if err != nil {
				return err
			}
			printStatus(c.OutOrStdout(), status)
			return nil
		},
	}
	f := c.Flags()
	f.StringVar(&req.Salt, "salt", "", "Salt used at commit time")
	f.Uint64Var(&req.RiskScore, "risk", 0, "Risk score")
	f.StringVar(&req.AttackType, "attack", "", "Attack classification")
	f.UintVar(&req.CPULoadPercent, "cpu", 0, "CPU load percent observed (0-100)")
	f.StringVar(&req.LogReference, "log", "", "Reference to the supporting log")
	return c
}

func revokeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <ip>",
		Short: "Retract your report before the address is confirmed",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			status, err := flags.client().Revoke(c.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(c.OutOrStdout(), status)
			return nil
		},
	}
}

func statusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <ip>",
		Short: "Show the consensus state of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			status, err := flags.client().Status(c.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(c.OutOrStdout(), status)
			return nil
		},
	}
}

func whitelistCommand(flags *rootFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "whitelist",
		Short: "Inspect or change the whitelist",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "add <ip>",
			Short: "Whitelist an address (governance)",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				seq, err := flags.client().AddToWhitelist(c.Context(), args[0])
				if err != nil {
					return err
				}
				printSeq(c.OutOrStdout(), "Whitelisted "+args[0], seq)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <ip>",
			Short: "Remove an address from the whitelist (governance)",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				seq, err := flags.client().RemoveFromWhitelist(c.Context(), args[0])
				if err != nil {
					return err
				}
				printSeq(c.OutOrStdout(), "Removed "+args[0], seq)
				return nil
			},
		},
		&cobra.Command{
			Use:   "check <ip>",
			Short: "Check whether an address is whitelisted",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				resp, err := flags.client().Whitelisted(c.Context(), args[0])
				if err != nil {
					return err
				}
				out := c.OutOrStdout()
				if resp.Whitelisted {
					okColor.Fprintf(out, "%s is whitelisted\n", resp.Address)
				} else {
					warnColor.Fprintf(out, "%s is not whitelisted\n", resp.Address)
				}
				return nil
			},
		},
	)
	return c
}

func forceCommand(flags *rootFlags) *cobra.Command {
	c := &cobra.Command{
		Use:   "force",
		Short: "Governance overrides of the consensus outcome",
	}
	c.AddCommand(
		&cobra.Command{
			Use:   "confirm <ip>",
			Short: "Confirm an address as a threat regardless of quorum",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				seq, err := flags.client().ForceConfirm(c.Context(), args[0])
				if err != nil {
					return err
				}
				printSeq(c.OutOrStdout(), "Confirmed "+args[0], seq)
				return nil
			},
		},
		&cobra.Command{
			Use:   "revoke <ip>",
			Short: "Clear a confirmation",
			Args:  cobra.ExactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				seq, err := flags.client().ForceRevoke(c.Context(), args[0])
				if err != nil {
					return err
				}
				printSeq(c.OutOrStdout(), "Revoked "+args[0], seq)
				return nil
			},
		},
	)
	return c
}

func tokenCommand() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
		secret  string
	)
	c := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with the node's JWT secret",
		RunE: func(c *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("a signing secret is required (--secret or JWT_SECRET)")
			}
			auth.SetSecret(secret)
			token, err := auth.GenerateJWT(subject, domain.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), token)
			return nil
		},
	}
	f := c.Flags()
	f.StringVar(&subject, "subject", "", "Reporter or governance member id")
	f.StringVar(&role, "role", string(domain.RoleReporter), "reporter or governance")
	f.DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	f.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret")
	_ = c.MarkFlagRequired("subject")
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

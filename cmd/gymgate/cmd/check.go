package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/repclub/gymgate/internal/config"
	"github.com/repclub/gymgate/internal/domain/access"
	"github.com/repclub/gymgate/internal/domain/auth"
	"github.com/repclub/gymgate/internal/domain/policy"
)

// checkOptions are the flags of the check command.
type checkOptions struct {
	route        string
	capability   string
	roles        []string
	minLevel     int
	granularKey  string
	requireMFA   bool
	identity     string
	role         string
	organization string
	mfaVerified  bool
	anonymous    bool
	loading      bool
	profileError string
}

var checkOpts checkOptions

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one access request offline",
	Long: `Evaluate one access request against the capability catalog and the
configured rules, without starting the server, and print the decision as JSON.

The caller is described with flags: --role sets the profile role,
--anonymous evaluates a signed-out visitor, --loading a session that is
still being restored, and --profile-error a failed profile lookup.

Examples:
  gymgate check --route /billing --capability billing.manage --role manager
  gymgate check --route /reports --granular reports.revenue --role trainer
  gymgate check --route "/members?tab=new" --anonymous`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		logger := newLogger(cmd.ErrOrStderr(), cfg)

		decision, err := runCheck(cfg, checkOpts, logger)
		if err != nil {
			return err
		}
		return writeDecision(cmd.OutOrStdout(), decision)
	},
}

// staticIdentity is a fixed identity provider state.
type staticIdentity struct {
	identity *auth.Identity
	loading  bool
}

func (s staticIdentity) CurrentIdentity() *auth.Identity { return s.identity }
func (s staticIdentity) SessionLoading() bool            { return s.loading }

// staticProfile is a fixed profile provider state.
type staticProfile struct {
	profile *access.Profile
	err     string
}

func (s staticProfile) CurrentProfile() *access.Profile { return s.profile }
func (s staticProfile) ProfileError() string            { return s.err }
func (staticProfile) RetryProfileFetch()                {}
func (staticProfile) TerminateSession()                 {}

// runCheck builds the request and snapshot described by opts and evaluates it.
func runCheck(cfg *config.Config, opts checkOptions, logger *slog.Logger) (access.Decision, error) {
	gate := buildGate(cfg)

	req := access.Request{
		Route:            opts.route,
		MinimumRoleLevel: opts.minLevel,
		GranularKey:      opts.granularKey,
		RequireMFA:       opts.requireMFA,
	}
	if opts.capability != "" {
		capability := policy.Capability(opts.capability)
		if !gate.Catalog().Has(capability) {
			return access.Decision{}, fmt.Errorf("unknown capability %q (see: gymgate catalog)", opts.capability)
		}
		req.Capability = capability
	}
	for _, name := range opts.roles {
		role, err := policy.ParseRole(name)
		if err != nil {
			return access.Decision{}, err
		}
		req.Roles = append(req.Roles, role)
	}

	idp := staticIdentity{loading: opts.loading}
	pp := staticProfile{err: opts.profileError}
	if opts.anonymous {
		return gate.Evaluate(req, access.Capture(idp, pp, nil)), nil
	}

	identity := &auth.Identity{ID: opts.identity}
	idp.identity = identity
	if opts.role != "" {
		role, err := policy.ParseRole(opts.role)
		if err != nil {
			return access.Decision{}, err
		}
		pp.profile = &access.Profile{
			IdentityID:     identity.ID,
			Role:           role,
			OrganizationID: opts.organization,
		}
	}

	oracle, err := buildOracle(cfg, logger)
	if err != nil {
		return access.Decision{}, err
	}
	return gate.Evaluate(req, access.Capture(idp, pp, oracle.Bind(identity, pp.profile, opts.mfaVerified))), nil
}

func writeDecision(w io.Writer, d access.Decision) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	return nil
}

func init() {
	f := checkCmd.Flags()
	f.StringVar(&checkOpts.route, "route", "", "route being attempted (required)")
	f.StringVar(&checkOpts.capability, "capability", "", "capability the route requires")
	f.StringSliceVar(&checkOpts.roles, "roles", nil, "roles allowed on the route")
	f.IntVar(&checkOpts.minLevel, "min-level", 0, "minimum role level (1 member .. 5 owner)")
	f.StringVar(&checkOpts.granularKey, "granular", "", "granular permission key to check against the rules")
	f.BoolVar(&checkOpts.requireMFA, "require-mfa", false, "require a verified second factor")
	f.StringVar(&checkOpts.identity, "identity", "cli-user", "identity ID of the caller")
	f.StringVar(&checkOpts.role, "role", "", "profile role of the caller; empty means no profile yet")
	f.StringVar(&checkOpts.organization, "organization", "", "organization of the caller's profile")
	f.BoolVar(&checkOpts.mfaVerified, "mfa-verified", false, "the caller has passed MFA")
	f.BoolVar(&checkOpts.anonymous, "anonymous", false, "evaluate a signed-out visitor")
	f.BoolVar(&checkOpts.loading, "loading", false, "the session is still being restored")
	f.StringVar(&checkOpts.profileError, "profile-error", "", "profile lookup failure message")
	_ = checkCmd.MarkFlagRequired("route")
	rootCmd.AddCommand(checkCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/container-tools/ghcr-cleanup/orchestrator"
	"github.com/container-tools/ghcr-cleanup/packageclient"
	"github.com/container-tools/ghcr-cleanup/registryclient"
	"github.com/container-tools/ghcr-cleanup/types"
)

const usageDesc = `Delete unreferenced and policy-excluded versions from GitHub
Container Registry packages.`

var log *logrus.Logger

var rootOpts struct {
	confFile  string
	verbosity string
	logopts   []string
	token     string

	owner          string
	ownerKind      string
	packages       string
	expandPackages bool
	useRegex       bool
	deleteTags     []string
	excludeTags    []string

	deleteGhostImages    bool
	deletePartialImages  bool
	deleteOrphanedImages bool
	keepNTagged          int
	keepNUntagged        int
	deleteUntagged       bool
	olderThan            string

	dryRun         bool
	validate       bool
	failOnWarnings bool
}

var rootCmd = &cobra.Command{
	Use:           "ghcr-cleanup",
	Short:         "Delete unreferenced container package versions",
	Long:          usageDesc,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClean,
}

func init() {
	log = &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&rootOpts.confFile, "config", "c", "", "YAML policy config file")
	flags.StringVarP(&rootOpts.verbosity, "verbosity", "v", logrus.InfoLevel.String(), "Log level (debug, info, warn, error, fatal, panic)")
	flags.StringArrayVar(&rootOpts.logopts, "logopt", []string{}, "Log options (\"json\")")
	flags.StringVar(&rootOpts.token, "token", "", "GitHub token (defaults to $GITHUB_TOKEN)")

	flags.StringVar(&rootOpts.owner, "owner", "", "GitHub owner (user or org)")
	flags.StringVar(&rootOpts.ownerKind, "owner-kind", "", "Owner kind: user, org, authenticated-user")
	flags.StringVar(&rootOpts.packages, "packages", "", "Comma-separated package names, or a pattern when --expand-packages is set")
	flags.BoolVar(&rootOpts.expandPackages, "expand-packages", false, "Treat --packages as a wildcard/regex pattern, requires elevated credentials")
	flags.BoolVar(&rootOpts.useRegex, "use-regex", false, "Interpret tag and package patterns as regex instead of wildcard")
	flags.StringArrayVar(&rootOpts.deleteTags, "delete-tags", nil, "Tag patterns to delete")
	flags.StringArrayVar(&rootOpts.excludeTags, "exclude-tags", nil, "Tag patterns to always retain")

	flags.BoolVar(&rootOpts.deleteGhostImages, "delete-ghost-images", false, "Delete multi-arch images whose children are all missing")
	flags.BoolVar(&rootOpts.deletePartialImages, "delete-partial-images", false, "Delete multi-arch images missing any child")
	flags.BoolVar(&rootOpts.deleteOrphanedImages, "delete-orphaned-images", false, "Delete referrer tags whose subject no longer exists")
	flags.IntVar(&rootOpts.keepNTagged, "keep-n-tagged", -1, "Keep only the N most recent tagged images (negative: unset)")
	flags.IntVar(&rootOpts.keepNUntagged, "keep-n-untagged", -1, "Keep only the N most recent untagged images (negative: unset)")
	flags.BoolVar(&rootOpts.deleteUntagged, "delete-untagged", false, "Delete every untagged image (mutually exclusive with --keep-n-untagged)")
	flags.StringVar(&rootOpts.olderThan, "older-than", "", "Only act on images older than this human interval, e.g. \"30 days\"")

	flags.BoolVar(&rootOpts.dryRun, "dry-run", false, "Log intended deletions without performing them")
	flags.BoolVar(&rootOpts.validate, "validate", false, "Run the structural validator after cleanup and report findings")
	flags.BoolVar(&rootOpts.failOnWarnings, "fail-on-warnings", false, "Exit non-zero if the validator reports any finding (requires --validate)")

	_ = rootCmd.MarkFlagFilename("config")

	rootCmd.RegisterFlagCompletionFunc("verbosity", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error", "fatal", "panic"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.PersistentPreRunE = rootPreRun
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	lvl, err := logrus.ParseLevel(rootOpts.verbosity)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	for _, opt := range rootOpts.logopts {
		if opt == "json" {
			log.Formatter = new(logrus.JSONFormatter)
		}
	}
	return nil
}

// flagsWereSet builds a flagOverlay from the flags the user actually
// passed on the command line, leaving the rest nil so the YAML file and
// environment tiers beneath them are not clobbered by zero values.
func flagsWereSet(cmd *cobra.Command) flagOverlay {
	var fo flagOverlay
	changed := cmd.Flags().Changed
	if changed("owner") {
		fo.owner = &rootOpts.owner
	}
	if changed("owner-kind") {
		fo.ownerKind = &rootOpts.ownerKind
	}
	if changed("packages") {
		fo.packages = &rootOpts.packages
	}
	if changed("expand-packages") {
		fo.expandPackages = &rootOpts.expandPackages
	}
	if changed("use-regex") {
		fo.useRegex = &rootOpts.useRegex
	}
	if changed("delete-tags") {
		fo.deleteTags = &rootOpts.deleteTags
	}
	if changed("exclude-tags") {
		fo.excludeTags = &rootOpts.excludeTags
	}
	if changed("delete-ghost-images") {
		fo.deleteGhostImages = &rootOpts.deleteGhostImages
	}
	if changed("delete-partial-images") {
		fo.deletePartialImages = &rootOpts.deletePartialImages
	}
	if changed("delete-orphaned-images") {
		fo.deleteOrphanedImages = &rootOpts.deleteOrphanedImages
	}
	if changed("keep-n-tagged") && rootOpts.keepNTagged >= 0 {
		fo.keepNTagged = &rootOpts.keepNTagged
	}
	if changed("keep-n-untagged") && rootOpts.keepNUntagged >= 0 {
		fo.keepNUntagged = &rootOpts.keepNUntagged
	}
	if changed("delete-untagged") {
		fo.deleteUntagged = &rootOpts.deleteUntagged
	}
	if changed("older-than") {
		fo.olderThan = &rootOpts.olderThan
	}
	if changed("dry-run") {
		fo.dryRun = &rootOpts.dryRun
	}
	if changed("validate") {
		fo.validate = &rootOpts.validate
	}
	if changed("fail-on-warnings") {
		fo.failOnWarnings = &rootOpts.failOnWarnings
	}
	return fo
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	fc, err := loadFileConfig(rootOpts.confFile)
	if err != nil {
		return err
	}
	fc = envOverlay(fc)
	fc = applyFlags(fc, flagsWereSet(cmd))

	if fc.Owner == "" {
		return fmt.Errorf("%w: --owner (or config owner:) is required", types.ErrConfiguration)
	}
	ownerKind, err := parseOwnerKind(fc.OwnerKind)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}

	token := rootOpts.token
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("%w: a GitHub token is required via --token or $GITHUB_TOKEN", types.ErrConfiguration)
	}

	cfg, err := fc.toPolicyConfig()
	if err != nil {
		return err
	}

	var pkgClient packageclient.PackageClient = packageclient.NewGitHub(token, fc.Owner, ownerKind, packageclient.WithLog(log))
	if cfg.DryRun {
		pkgClient = packageclient.NewDryRun(pkgClient, log)
	}

	elevated := ownerKind == packageclient.OwnerOrg || ownerKind == packageclient.OwnerAuthenticatedUser
	cred := registryclient.Credential{Username: fc.Owner, Password: token}
	registryFor := func(pkg string) (orchestrator.Registry, error) {
		return registryclient.New("ghcr.io", fc.Owner+"/"+pkg, cred, registryclient.WithLog(log))
	}

	o := orchestrator.New(pkgClient, fc.Owner, elevated, registryFor, cfg, orchestrator.WithLog(log))
	reports, err := o.Run(ctx, orchestrator.PackageSelector{
		Packages:       fc.Packages,
		ExpandPackages: fc.ExpandPackages,
		UseRegex:       fc.UseRegex,
	})
	if err != nil {
		return err
	}

	failOnWarnings := fc.FailOnWarnings
	for _, r := range reports {
		log.WithFields(logrus.Fields{
			"package":          r.Package,
			"versionsDeleted":  r.Stats.VersionsDeleted,
			"multiArchDeleted": r.Stats.MultiArchDeleted,
			"findings":         len(r.Findings),
		}).Info("package complete")
		if failOnWarnings && len(r.Findings) > 0 {
			for _, f := range r.Findings {
				log.Warn(f.String())
			}
			return fmt.Errorf("%w: package %s has %d structural findings", types.ErrIntegrityWarning, r.Package, len(r.Findings))
		}
	}
	return nil
}

// Command poolcheck prints the state of the credential pool: per-mode
// counts, tier and visibility breakdowns, and per-group cooldown status.
// With -model it additionally shows which credentials currently qualify for
// that model, without touching any usage state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	sqliteadapter "github.com/credshare/credpool/internal/adapter/driven/sqlite"
	"github.com/credshare/credpool/internal/application"
	"github.com/credshare/credpool/internal/config"
	"github.com/credshare/credpool/internal/domain/model"
	"github.com/credshare/credpool/internal/domain/port/driven"
)

func main() {
	modelName := flag.String("model", "", "show candidates for this model name (dry run, no usage touch)")
	userID := flag.Int64("user", 0, "requester user id for the dry run (0 = system)")
	flag.Parse()

	if err := run(*modelName, *userID); err != nil {
		fmt.Fprintln(os.Stderr, "poolcheck:", err)
		os.Exit(1)
	}
}

func run(modelName string, userID int64) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}

	store := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, mode := range model.Modes() {
		if err := printMode(ctx, store, cfg, mode); err != nil {
			return err
		}
	}

	if modelName != "" {
		return printCandidates(ctx, store, cfg, modelName, userID)
	}
	return nil
}

func printMode(ctx context.Context, store driven.CredentialStore, cfg *config.Config, mode model.ProviderMode) error {
	creds, err := store.ListActive(ctx, mode)
	if err != nil {
		return err
	}

	var public, tier3, provisioned int
	for _, c := range creds {
		if c.IsPublic {
			public++
		}
		if c.Tier == model.Tier3 {
			tier3++
		}
		if c.HasTenant() {
			provisioned++
		}
	}

	fmt.Printf("mode %s (policy %s): %d active, %d public, %d tier-3, %d provisioned\n",
		mode, cfg.Mode(mode).PoolPolicy, len(creds), public, tier3, provisioned)

	if len(creds) == 0 {
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tEMAIL\tTIER\tPUBLIC\tFLASH CD\tPRO CD\tPREMIUM CD\tFAILS")
	for _, c := range creds {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%v\t%s\t%s\t%s\t%d\n",
			c.ID, c.Email, c.Tier, c.IsPublic,
			cooldownState(&c, model.GroupFlash, now),
			cooldownState(&c, model.GroupPro, now),
			cooldownState(&c, model.GroupPremium, now),
			c.FailedRequests,
		)
	}
	return w.Flush()
}

func cooldownState(c *model.Credential, group model.FeatureGroup, now time.Time) string {
	if until, cooling := c.Cooldowns.Until(group, now); cooling {
		return until.Sub(now).Round(time.Second).String()
	}
	return "-"
}

// printCandidates runs the same filter a selection would, read-only.
func printCandidates(ctx context.Context, store driven.CredentialStore, cfg *config.Config, modelName string, userID int64) error {
	var owner *int64
	if userID != 0 {
		owner = &userID
	}

	for _, mode := range model.Modes() {
		q := driven.CandidateQuery{
			Mode:           mode,
			RequiredTier:   application.RequiredTier(modelName),
			SkipTierFilter: cfg.Mode(mode).SkipTierFilter,
			Group:          application.GroupForModel(mode, modelName),
			OwnerID:        owner,
			IncludeShared:  true,
		}
		candidates, err := store.ListCandidates(ctx, q)
		if err != nil {
			return err
		}

		fmt.Printf("\nmodel %q on %s -> group %s, tier %s: %d candidates\n",
			modelName, mode, q.Group, q.RequiredTier, len(candidates))
		for i, c := range candidates {
			fmt.Printf("  %d. id=%d email=%s tier=%s\n", i+1, c.ID, c.Email, c.Tier)
		}
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hayahq/haya/internal/auth"
	"github.com/hayahq/haya/internal/config"
	"github.com/hayahq/haya/internal/doctor"
	"github.com/hayahq/haya/internal/onboard"
	"github.com/hayahq/haya/internal/pairing"
	"github.com/hayahq/haya/internal/security"
	"github.com/hayahq/haya/internal/usage"
)

func buildInitCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config with a generated gateway token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Scaffold(config.InitOptions{
				Path:     configPath,
				Provider: provider,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", cfg.Path())
			fmt.Printf("Gateway token: %s\n", cfg.Gateway.EffectiveToken())
			if envVar := cfg.Agent.DefaultProviderAPIKeyEnvVar; envVar != "" {
				fmt.Printf("Export %s before `haya start`.\n", envVar)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "default provider (openai, anthropic, gemini, bedrock)")
	return cmd
}

func buildOnboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := onboard.NewWizard(os.Stdin, os.Stdout).Run(configPath)
			return err
		},
	}
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the loaded config with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.Redacted()
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	})
	return cmd
}

func buildAuditCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit the security posture; non-zero exit on critical findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			report := security.Run(cfg)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printAudit(report)
			}
			if report.HasCritical() {
				return fmt.Errorf("%d critical finding(s)", report.Count(security.SeverityCritical))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	return cmd
}

func printAudit(report *security.Report) {
	if len(report.Findings) == 0 {
		fmt.Println("No findings. Posture looks good.")
		return
	}
	for _, f := range report.Findings {
		fmt.Printf("[%s] %s: %s\n", strings.ToUpper(string(f.Severity)), f.CheckID, f.Title)
		if f.Detail != "" {
			fmt.Printf("        %s\n", f.Detail)
		}
		if f.Remediation != "" {
			fmt.Printf("        fix: %s\n", f.Remediation)
		}
	}
	fmt.Printf("%d critical, %d warn, %d info\n",
		report.Count(security.SeverityCritical),
		report.Count(security.SeverityWarn),
		report.Count(security.SeverityInfo))
}

func buildDoctorCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the local environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if fix {
				fixed, err := doctor.Repair(cfg)
				if err != nil {
					return err
				}
				for _, change := range fixed {
					fmt.Println(change)
				}
			}
			report := doctor.Run(cfg)
			for _, check := range report.Checks {
				fmt.Printf("[%-4s] %s", check.Status, check.Name)
				if check.Detail != "" {
					fmt.Printf(" — %s", check.Detail)
				}
				fmt.Println()
			}
			if !report.Healthy() {
				return fmt.Errorf("doctor found failing checks")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "create missing directories and tighten permissions")
	return cmd
}

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage gateway access tokens",
	}
	var ttl time.Duration
	var subject string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a short-lived JWT accepted by the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := cfg.Gateway.EffectiveToken()
			if secret == "" {
				return fmt.Errorf("no gateway token configured")
			}
			token, err := auth.IssueJWT([]byte(secret), subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	issue.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.AddCommand(issue)
	return cmd
}

func buildSendersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "senders",
		Short: "Manage who may message the assistant",
	}

	openStore := func() (*pairing.Store, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		return pairing.NewStore(cfg.DataDir())
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show allowlisted senders",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			senders, err := store.Allowlist()
			if err != nil {
				return err
			}
			if len(senders) == 0 {
				fmt.Println("No senders allowlisted.")
				return nil
			}
			for _, id := range senders {
				fmt.Println(id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <sender-id>",
		Short: "Allowlist a sender directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return store.AddSender(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "Show unexpired pairing codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			codes, err := store.Pending()
			if err != nil {
				return err
			}
			if len(codes) == 0 {
				fmt.Println("No pending pairing requests.")
				return nil
			}
			for _, code := range codes {
				fmt.Printf("%s  %s/%s", code.Code, code.Channel, code.SenderID)
				if code.SenderName != "" {
					fmt.Printf(" (%s)", code.SenderName)
				}
				fmt.Println()
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			code, err := store.Approve(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Approved %s on %s\n", code.SenderID, code.Channel)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deny <code>",
		Short: "Deny a pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			code, err := store.Deny(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Denied %s on %s\n", code.SenderID, code.Channel)
			return nil
		},
	})

	return cmd
}

func buildUsageCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize token usage and estimated cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tracker, err := usage.NewTracker(cfg.UsageDir(), usage.DefaultCosts(), nil)
			if err != nil {
				return err
			}
			filter := usage.Filter{}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				filter.Since = t
			}
			records, err := tracker.Query(filter)
			if err != nil {
				return err
			}
			summary := usage.Aggregate(records)
			fmt.Printf("Requests: %d\n", summary.Total.Requests)
			fmt.Printf("Tokens:   %s\n", usage.FormatUsage(summary.Total.Usage))
			fmt.Printf("Cost:     %s\n", usage.FormatUSD(summary.Total.CostUSD))
			for _, bucket := range summary.ByModel {
				fmt.Printf("  %-30s %s  %s\n", bucket.Key,
					usage.FormatUsage(bucket.Usage), usage.FormatUSD(bucket.CostUSD))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only records on or after this date (YYYY-MM-DD)")
	return cmd
}

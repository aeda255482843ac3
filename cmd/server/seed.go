package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/container"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load companies, users and approval policies from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		data, err := loadSeed(seedFile)
		if err != nil {
			return err
		}

		dbCfg := cfg.ToContainerConfig().Database
		dbCfg.AutoMigrate = true
		bundle, err := container.ProvideDatabase(&dbCfg, logger)
		if err != nil {
			return err
		}
		defer bundle.DB.Close()

		repos, err := container.ProvideRepositories(bundle.DB.DB, logger)
		if err != nil {
			return err
		}

		counts, err := applySeed(cmd.Context(), repos, data, time.Now())
		if err != nil {
			return err
		}

		logger.Info("Seed data loaded",
			zap.Int("companies", counts.Companies),
			zap.Int("users", counts.Users),
			zap.Int("policies", counts.Policies))
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d companies, %d users, %d policies\n",
			counts.Companies, counts.Users, counts.Policies)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "configs/seed.example.yaml", "seed file")
}

type seedCompany struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	CurrencyCode      string `yaml:"currency_code"`
	DefaultApproverID string `yaml:"default_approver_id"`
}

type seedUser struct {
	ID        string `yaml:"id"`
	CompanyID string `yaml:"company_id"`
	Name      string `yaml:"name"`
	Email     string `yaml:"email"`
	Role      string `yaml:"role"`
}

type seedData struct {
	Companies []seedCompany     `yaml:"companies"`
	Users     []seedUser        `yaml:"users"`
	Policies  []approval.Policy `yaml:"policies"`
}

type seedCounts struct {
	Companies int
	Users     int
	Policies  int
}

func loadSeed(path string) (*seedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var data seedData
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := data.validate(); err != nil {
		return nil, err
	}
	return &data, nil
}

func (d *seedData) validate() error {
	companies := make(map[string]bool, len(d.Companies))
	for _, c := range d.Companies {
		if err := utils.ValidateIdentifier(c.ID); err != nil {
			return fmt.Errorf("company: %w", err)
		}
		if _, ok := entity.NormalizeCurrency(c.CurrencyCode); !ok {
			return fmt.Errorf("company %s: invalid currency %q", c.ID, c.CurrencyCode)
		}
		companies[c.ID] = true
	}

	users := make(map[string]string, len(d.Users))
	for _, u := range d.Users {
		if err := utils.ValidateIdentifier(u.ID); err != nil {
			return fmt.Errorf("user: %w", err)
		}
		if !companies[u.CompanyID] {
			return fmt.Errorf("user %s: unknown company %q", u.ID, u.CompanyID)
		}
		if err := utils.ValidateEmail(u.Email); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
		switch strings.ToUpper(u.Role) {
		case entity.RoleEmployee, entity.RoleManager, entity.RoleAdmin:
		default:
			return fmt.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
		users[u.ID] = u.CompanyID
	}

	for _, c := range d.Companies {
		if c.DefaultApproverID != "" && users[c.DefaultApproverID] != c.ID {
			return fmt.Errorf("company %s: default approver %q is not a member", c.ID, c.DefaultApproverID)
		}
	}

	for i := range d.Policies {
		p := &d.Policies[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if users[p.SubjectID] != p.CompanyID {
			return fmt.Errorf("policy %s: subject is not a member of company %q", p.SubjectID, p.CompanyID)
		}
		if p.ManagerID != "" && users[p.ManagerID] != p.CompanyID {
			return fmt.Errorf("policy %s: manager %q is not a member", p.SubjectID, p.ManagerID)
		}
		for _, a := range p.Approvers {
			if users[a.UserID] != p.CompanyID {
				return fmt.Errorf("policy %s: approver %q is not a member", p.SubjectID, a.UserID)
			}
		}
	}
	return nil
}

// applySeed upserts every record; running it twice leaves the same state
func applySeed(ctx context.Context, repos *container.RepositoryBundle, data *seedData, now time.Time) (seedCounts, error) {
	var counts seedCounts

	for _, c := range data.Companies {
		code, _ := entity.NormalizeCurrency(c.CurrencyCode)
		err := repos.Directory.SaveCompany(ctx, &entity.Company{
			ID:                c.ID,
			Name:              utils.SanitizeString(c.Name),
			CurrencyCode:      code,
			DefaultApproverID: c.DefaultApproverID,
			CreatedAt:         now,
		})
		if err != nil {
			return counts, fmt.Errorf("seed company %s: %w", c.ID, err)
		}
		counts.Companies++
	}

	for _, u := range data.Users {
		err := repos.Directory.SaveUser(ctx, &entity.User{
			ID:        u.ID,
			CompanyID: u.CompanyID,
			Name:      utils.SanitizeString(u.Name),
			Email:     strings.ToLower(u.Email),
			Role:      strings.ToUpper(u.Role),
			CreatedAt: now,
		})
		if err != nil {
			return counts, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		counts.Users++
	}

	for i := range data.Policies {
		p := data.Policies[i]
		if err := repos.Policies.Save(ctx, &p); err != nil {
			return counts, fmt.Errorf("seed policy %s: %w", p.SubjectID, err)
		}
		counts.Policies++
	}

	return counts, nil
}

package store

import (
	"context"
	"fmt"
	"os"

	"carebot/internal/domain"

	"gopkg.in/yaml.v3"
)

// Fixture is the YAML shape consumed by `carebot seed`.
type Fixture struct {
	Profile struct {
		Name     string `yaml:"name"`
		Age      int    `yaml:"age"`
		Address  string `yaml:"address"`
		City     string `yaml:"city"`
		Email    string `yaml:"email"`
		Phone    string `yaml:"phone"`
		Timezone string `yaml:"timezone"`
		Notes    string `yaml:"notes"`
	} `yaml:"profile"`
	Medications []struct {
		Name      string `yaml:"name"`
		Dosage    string `yaml:"dosage"`
		Frequency string `yaml:"frequency"`
		TimeOfDay string `yaml:"time_of_day"`
		Notes     string `yaml:"notes"`
	} `yaml:"medications"`
	Contacts []struct {
		Name      string `yaml:"name"`
		Relation  string `yaml:"relation"`
		Phone     string `yaml:"phone"`
		Email     string `yaml:"email"`
		IsPrimary bool   `yaml:"is_primary"`
	} `yaml:"contacts"`
	Bills []struct {
		Name       string  `yaml:"name"`
		Amount     float64 `yaml:"amount"`
		DueDate    string  `yaml:"due_date"`
		Recurrence string  `yaml:"recurrence"`
	} `yaml:"bills"`
}

// Seed loads a YAML fixture into the store. Existing medication, contact,
// and bill rows are kept; the profile row is replaced.
func (s *Store) Seed(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}

	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}

	if fx.Profile.Name != "" {
		err := s.SaveProfile(ctx, domain.UserProfile{
			Name:     fx.Profile.Name,
			Age:      fx.Profile.Age,
			Address:  fx.Profile.Address,
			City:     fx.Profile.City,
			Email:    fx.Profile.Email,
			Phone:    fx.Profile.Phone,
			Timezone: fx.Profile.Timezone,
			Notes:    fx.Profile.Notes,
		})
		if err != nil {
			return fmt.Errorf("seed profile: %w", err)
		}
	}

	for _, m := range fx.Medications {
		if _, err := s.AddMedication(ctx, domain.Medication{
			Name:      m.Name,
			Dosage:    m.Dosage,
			Frequency: m.Frequency,
			TimeOfDay: m.TimeOfDay,
			Notes:     m.Notes,
		}); err != nil {
			return fmt.Errorf("seed medication %q: %w", m.Name, err)
		}
	}

	for _, c := range fx.Contacts {
		if _, err := s.AddContact(ctx, domain.EmergencyContact{
			Name:      c.Name,
			Relation:  c.Relation,
			Phone:     c.Phone,
			Email:     c.Email,
			IsPrimary: c.IsPrimary,
		}); err != nil {
			return fmt.Errorf("seed contact %q: %w", c.Name, err)
		}
	}

	for _, b := range fx.Bills {
		if _, err := s.AddBill(ctx, domain.BillReminder{
			Name:       b.Name,
			Amount:     b.Amount,
			DueDate:    b.DueDate,
			Recurrence: b.Recurrence,
		}); err != nil {
			return fmt.Errorf("seed bill %q: %w", b.Name, err)
		}
	}

	s.logger.Info("fixture loaded",
		"medications", len(fx.Medications),
		"contacts", len(fx.Contacts),
		"bills", len(fx.Bills),
	)
	return nil
}

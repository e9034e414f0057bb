package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/supportstack/orchestrad/pkg/models"
)

// Validator performs comprehensive validation on loaded configuration.
type Validator struct {
	cfg      *Config
	validate *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{
		cfg:      cfg,
		validate: validator.New(),
	}
}

// ValidateAll checks every section; the first failure is returned.
func (v *Validator) ValidateAll() error {
	if err := v.validate.Struct(v.cfg.Executor); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if err := v.validate.Struct(v.cfg.Reviewer); err != nil {
		return fmt.Errorf("reviewer: %w", err)
	}
	if err := v.validate.Struct(v.cfg.Feedback); err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return err
	}
	if err := v.validateTiers(); err != nil {
		return err
	}
	if err := v.validateEscalation(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateQueue() error {
	known := map[string]bool{
		string(models.HITLPriorityCritical): true,
		string(models.HITLPriorityHigh):     true,
		string(models.HITLPriorityMedium):   true,
		string(models.HITLPriorityLow):      true,
	}
	for name, d := range v.cfg.Queue.SLA {
		if !known[name] {
			return &FieldError{Field: "queue.sla." + name, Message: "unknown priority"}
		}
		if d <= 0 {
			return &FieldError{Field: "queue.sla." + name, Message: "SLA must be positive"}
		}
	}
	if v.cfg.Queue.SweepInterval <= 0 {
		return &FieldError{Field: "queue.sweep_interval", Message: "must be positive"}
	}
	return nil
}

func (v *Validator) validateTiers() error {
	required := []models.TenantTier{
		models.TierFree, models.TierStarter, models.TierProfessional, models.TierEnterprise,
	}
	for _, tier := range required {
		limits, ok := v.cfg.Tenant.Tiers[string(tier)]
		if !ok {
			return &FieldError{Field: "tenant.tiers." + string(tier), Message: "tier limits missing"}
		}
		if limits.MaxAgents <= 0 || limits.MaxConcurrentExecutions <= 0 || limits.RateLimitPerMinute <= 0 {
			return &FieldError{Field: "tenant.tiers." + string(tier), Message: "limits must be positive"}
		}
	}
	return nil
}

func (v *Validator) validateEscalation() error {
	validLevels := map[models.EscalationLevel]bool{
		models.LevelL1: true, models.LevelL2: true, models.LevelL3: true,
		models.LevelManager: true, models.LevelExecutive: true,
	}
	for tenantID, policy := range v.cfg.EscalationPolicies {
		if policy.DefaultLevel != "" && !validLevels[policy.DefaultLevel] {
			return &FieldError{
				Field:   fmt.Sprintf("escalation.%s.default_level", tenantID),
				Message: fmt.Sprintf("unknown level %q", policy.DefaultLevel),
			}
		}
		for i, rule := range policy.Rules {
			if rule.Name == "" {
				return &FieldError{
					Field:   fmt.Sprintf("escalation.%s.rules[%d].name", tenantID, i),
					Message: "rule name is required",
				}
			}
			if !validLevels[rule.Level] {
				return &FieldError{
					Field:   fmt.Sprintf("escalation.%s.rules[%d].level", tenantID, i),
					Message: fmt.Sprintf("unknown level %q", rule.Level),
				}
			}
			if rule.Priority.Band() > 3 {
				return &FieldError{
					Field:   fmt.Sprintf("escalation.%s.rules[%d].priority", tenantID, i),
					Message: fmt.Sprintf("unknown priority %q", rule.Priority),
				}
			}
		}
	}
	return nil
}

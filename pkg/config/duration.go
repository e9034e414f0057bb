package config

import "github.com/supportstack/orchestrad/pkg/models"

// Duration aliases the YAML-aware duration used throughout the model
// layer so config sections share its parsing rules.
type Duration = models.Duration

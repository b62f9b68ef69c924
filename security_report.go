package authcore

import "time"

// SecurityReport summarizes the security-relevant settings an Engine runs
// with. It never includes key material.
type SecurityReport struct {
	SigningAlgorithm   string
	SeparateRefreshKey bool
	Issuer             string
	Audience           string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	IdentityKeySource  string
	IdentityProjectID  string
	StoreTimeout       time.Duration
	Retention          time.Duration
	AuditEnabled       bool
	MetricsEnabled     bool
}

// SecurityReport returns the effective configuration summary.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cfg := e.config
	return SecurityReport{
		SigningAlgorithm:   cfg.JWT.SigningMethod,
		SeparateRefreshKey: len(cfg.JWT.RefreshPrivateKey) > 0 || cfg.JWT.SigningMethod == "hs256",
		Issuer:             cfg.JWT.Issuer,
		Audience:           cfg.JWT.Audience,
		AccessTTL:          cfg.JWT.AccessTTL,
		RefreshTTL:         cfg.JWT.RefreshTTL,
		IdentityKeySource:  cfg.Identity.KeySource,
		IdentityProjectID:  cfg.Identity.ProjectID,
		StoreTimeout:       cfg.Store.OperationTimeout,
		Retention:          cfg.Store.Retention,
		AuditEnabled:       cfg.Audit.Enabled,
		MetricsEnabled:     cfg.Metrics.Enabled,
	}
}

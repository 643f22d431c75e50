package detect

import "time"

// Rule ids.
const (
	RuleBurstPerResource    = "burst-per-subject-per-resource"
	RuleBurstAcrossResource = "burst-per-subject-across-resources"
	RuleRepeatedDenials     = "repeated-denials"
	RuleMultipleIPs         = "multi-ip-per-subject"
	RuleOrgWideSpike        = "org-wide-spike"
	RuleDownloadBurst       = "download-burst"
	RuleNightDownloads      = "night-hours"
	RuleNewIPHighVolume     = "new-ip-high-volume"
)

// DefaultAccessRules returns the rules over access requests.
func DefaultAccessRules(cfg *DetectConfig) []Rule {
	if cfg == nil {
		cfg = DefaultDetectConfig()
	}
	return []Rule{
		&ThresholdRule{
			RuleID:     RuleBurstPerResource,
			Source:     AccessRequests,
			GroupBy:    []Dimension{DimUser, DimDocument},
			Window:     5 * time.Minute,
			Threshold:  cfg.threshold(RuleBurstPerResource, 3),
			Level:      SeverityWarning,
			SampleSize: cfg.SampleSize,
		},
		&ThresholdRule{
			RuleID:     RuleBurstAcrossResource,
			Source:     AccessRequests,
			GroupBy:    []Dimension{DimUser},
			Distinct:   DimDocument,
			Window:     24 * time.Hour,
			Threshold:  cfg.threshold(RuleBurstAcrossResource, 8),
			Level:      SeverityWarning,
			SampleSize: cfg.SampleSize,
		},
		&ThresholdRule{
			RuleID:     RuleRepeatedDenials,
			Source:     AccessRequests,
			GroupBy:    []Dimension{DimUser},
			Where:      "status = ?",
			WhereArgs:  []any{"denied"},
			Window:     7 * 24 * time.Hour,
			Threshold:  cfg.threshold(RuleRepeatedDenials, 5),
			Level:      SeverityCritical,
			SampleSize: cfg.SampleSize,
			Cooldown:   cfg.DenialCooldown,
		},
		&ThresholdRule{
			RuleID:     RuleMultipleIPs,
			Source:     AccessRequests,
			GroupBy:    []Dimension{DimUser},
			Distinct:   DimIP,
			Where:      "ip_address <> ''",
			Window:     24 * time.Hour,
			Threshold:  cfg.threshold(RuleMultipleIPs, 3),
			Level:      SeverityWarning,
			SampleSize: cfg.SampleSize,
		},
		&ThresholdRule{
			RuleID:     RuleOrgWideSpike,
			Source:     AccessRequests,
			Window:     30 * time.Minute,
			Threshold:  cfg.threshold(RuleOrgWideSpike, 50),
			Level:      SeverityCritical,
			SampleSize: cfg.SampleSize,
		},
	}
}

// DefaultDownloadRules returns the rules over downloads.
func DefaultDownloadRules(cfg *DetectConfig) []Rule {
	if cfg == nil {
		cfg = DefaultDetectConfig()
	}
	return []Rule{
		&ThresholdRule{
			RuleID:     RuleDownloadBurst,
			Source:     Downloads,
			GroupBy:    []Dimension{DimUser},
			Window:     5 * time.Minute,
			Threshold:  cfg.threshold(RuleDownloadBurst, 10),
			Level:      SeverityWarning,
			SampleSize: cfg.SampleSize,
		},
		&ThresholdRule{
			RuleID:     RuleNightDownloads,
			Source:     Downloads,
			GroupBy:    []Dimension{DimUser},
			Window:     30 * time.Minute,
			Threshold:  cfg.threshold(RuleNightDownloads, 5),
			Level:      SeverityWarning,
			Hours:      &HourRange{From: 0, To: 6, Location: cfg.Location},
			SampleSize: cfg.SampleSize,
		},
		&NewIPRule{
			RuleID:     RuleNewIPHighVolume,
			Window:     time.Hour,
			Baseline:   14 * 24 * time.Hour,
			Threshold:  cfg.threshold(RuleNewIPHighVolume, 8),
			Level:      SeverityCritical,
			SampleSize: cfg.SampleSize,
		},
	}
}

package domain

import (
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic records a recovered per-item problem or a noteworthy
// observation made during a run. Diagnostics never abort a run.
type Diagnostic struct {
	Code     apperror.Code `json:"code"`
	Severity Severity      `json:"severity"`
	PoolID   PoolID        `json:"poolId,omitempty"`
	TokenID  asset.ID      `json:"tokenId,omitempty"`
	Message  string        `json:"message"`
}

func poolDiagnostic(code apperror.Code, sev Severity, id PoolID, msg string) Diagnostic {
	return Diagnostic{Code: code, Severity: sev, PoolID: id, Message: msg}
}

// CountBySeverity tallies diagnostics.
func CountBySeverity(diags []Diagnostic) map[Severity]int {
	out := make(map[Severity]int, 3)
	for _, d := range diags {
		out[d.Severity]++
	}
	return out
}

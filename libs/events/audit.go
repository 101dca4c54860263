package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AnonymousActor is the UserId sent for actions without an authenticated user.
const AnonymousActor = "N/A"

// NoTenant is the EmpresaId of actions performed outside any tenant context
// (admin or anonymous).
const NoTenant int64 = 0

// AuditLog is the audit channel payload. JSON keys are the wire contract
// shared with every producing service.
type AuditLog struct {
	Action            string    `json:"Action"`
	UserID            string    `json:"UserId"`
	EmpresaID         *int64    `json:"EmpresaId"`
	AccessedEmpresaID *int64    `json:"AccessedEmpresaId,omitempty"`
	AccessedUsuarioID *int64    `json:"AccessedUsuarioId,omitempty"`
	Timestamp         time.Time `json:"Timestamp"`
}

// UnmarshalJSON accepts RFC 3339 timestamps as well as offset-less ones,
// which are read as UTC.
func (l *AuditLog) UnmarshalJSON(b []byte) error {
	type alias AuditLog
	aux := struct {
		*alias
		Timestamp *string `json:"Timestamp"`
	}{alias: (*alias)(l)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	l.Timestamp = time.Time{}
	if aux.Timestamp == nil || strings.TrimSpace(*aux.Timestamp) == "" {
		return nil
	}
	ts, err := parseTimestamp(*aux.Timestamp)
	if err != nil {
		return err
	}
	l.Timestamp = ts
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid Timestamp %q", v)
}

// Tenant returns EmpresaId, or NoTenant when it is absent.
func (l AuditLog) Tenant() int64 {
	if l.EmpresaID == nil {
		return NoTenant
	}
	return *l.EmpresaID
}

// IsAdminCrossTenant reports an admin touching another tenant's data:
// an accessed tenant is set while the actor has no tenant of their own.
func (l AuditLog) IsAdminCrossTenant() bool {
	return l.AccessedEmpresaID != nil && l.Tenant() == NoTenant
}

// Validate checks the fields every audit record must carry.
func (l AuditLog) Validate() error {
	var missing []string
	if strings.TrimSpace(l.Action) == "" {
		missing = append(missing, "Action")
	}
	if l.UserID == "" {
		missing = append(missing, "UserId")
	}
	if l.EmpresaID == nil {
		missing = append(missing, "EmpresaId")
	}
	if l.Timestamp.IsZero() {
		missing = append(missing, "Timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: audit log missing %s", ErrDeserialization, strings.Join(missing, ", "))
	}
	return nil
}

// DecodeAuditLog parses and validates an audit channel payload. The returned
// timestamp is normalised to UTC.
func DecodeAuditLog(raw []byte) (AuditLog, error) {
	var l AuditLog
	if err := json.Unmarshal(raw, &l); err != nil {
		return AuditLog{}, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	if err := l.Validate(); err != nil {
		return AuditLog{}, err
	}
	l.Timestamp = l.Timestamp.UTC()
	return l, nil
}

// Int64 returns a pointer to v, for the optional id fields.
func Int64(v int64) *int64 {
	return &v
}

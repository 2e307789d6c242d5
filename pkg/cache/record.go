package cache

import (
	"github.com/openev/carwings/pkg/protocol"
)

// Record holds the durable identifiers of an authenticated session. Which fields are required
// depends on the protocol generation.
type Record struct {
	VIN              string `json:"vin"`
	DCMID            string `json:"dcmid,omitempty"`
	CustomSessionID  string `json:"sessionid,omitempty"`
	AuthToken        string `json:"authToken,omitempty"`
	AccountID        string `json:"accountId,omitempty"`
	Cookie           string `json:"cookie,omitempty"`
	VehicleBoundTime string `json:"vehicleBoundTime,omitempty"`
}

func (r *Record) field(f protocol.Field) *string {
	switch f {
	case protocol.FieldVIN:
		return &r.VIN
	case protocol.FieldDCMID:
		return &r.DCMID
	case protocol.FieldCustomSessionID:
		return &r.CustomSessionID
	case protocol.FieldAuthToken:
		return &r.AuthToken
	case protocol.FieldAccountID:
		return &r.AccountID
	case protocol.FieldCookie:
		return &r.Cookie
	case protocol.FieldVehicleBoundTime:
		return &r.VehicleBoundTime
	}
	return nil
}

// Value returns the value of f, or "" if f is unknown.
func (r Record) Value(f protocol.Field) string {
	if p := r.field(f); p != nil {
		return *p
	}
	return ""
}

// Set assigns v to f. Unknown fields are ignored.
func (r *Record) Set(f protocol.Field, v string) {
	if p := r.field(f); p != nil {
		*p = v
	}
}

// Missing returns the required fields that are empty.
func (r Record) Missing(required []protocol.Field) []protocol.Field {
	var missing []protocol.Field
	for _, f := range required {
		if r.Value(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete reports whether every required field is non-empty.
func (r Record) Complete(required []protocol.Field) bool {
	return len(r.Missing(required)) == 0
}

// IsZero reports whether no field is set.
func (r Record) IsZero() bool {
	return r == Record{}
}

// Merge fills empty fields of r with values from other.
func (r *Record) Merge(other Record) {
	for f := 0; f < fieldCount; f++ {
		field := protocol.Field(f)
		if r.Value(field) == "" {
			r.Set(field, other.Value(field))
		}
	}
}

// ClearTokens empties every field except the VIN.
func (r *Record) ClearTokens() {
	*r = Record{VIN: r.VIN}
}

const fieldCount = int(protocol.FieldVehicleBoundTime) + 1

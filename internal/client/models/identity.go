package models

import "encoding/json"

// Identity is the signed-in user as reported by GET /auth/me.
// Values are snapshots: the session replaces them wholesale and never
// mutates one in place.
type Identity struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	DisplayName      string `json:"full_name"`
	Role             Role   `json:"role"`
	Active           bool   `json:"is_active"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
}

// UnmarshalJSON accepts numeric or string ids and normalises the role.
func (i *Identity) UnmarshalJSON(b []byte) error {
	type wire struct {
		ID               json.RawMessage `json:"id"`
		Email            string          `json:"email"`
		DisplayName      string          `json:"full_name"`
		Role             string          `json:"role"`
		Active           bool            `json:"is_active"`
		TwoFactorEnabled bool            `json:"two_factor_enabled"`
	}
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	id := string(w.ID)
	var s string
	if err := json.Unmarshal(w.ID, &s); err == nil {
		id = s
	}
	if id == "null" {
		id = ""
	}

	*i = Identity{
		ID:               id,
		Email:            w.Email,
		DisplayName:      w.DisplayName,
		Role:             ParseRole(w.Role),
		Active:           w.Active,
		TwoFactorEnabled: w.TwoFactorEnabled,
	}
	return nil
}

// Clone returns a copy that shares nothing with i.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

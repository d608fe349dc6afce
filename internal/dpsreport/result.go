package dpsreport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sydlexius/archarvest/internal/remote"
)

// Result is the upload response. Every field is optional: absent or
// mismatched fields stay at their zero value.
type Result struct {
	ID            string          `json:"id"`
	Permalink     string          `json:"permalink"`
	Identifier    string          `json:"identifier"`
	UploadTime    int64           `json:"uploadTime"`
	EncounterTime int64           `json:"encounterTime"`
	Generator     string          `json:"generator"`
	Language      string          `json:"language"`
	UserToken     string          `json:"userToken"`
	Error         *string         `json:"error,omitempty"`
	Encounter     *Encounter      `json:"encounter,omitempty"`
	Evtc          *Evtc           `json:"evtc,omitempty"`
	Players       json.RawMessage `json:"players,omitempty"`
}

// Encounter summarizes the fight.
type Encounter struct {
	Success         bool  `json:"success"`
	Duration        int   `json:"duration"`
	CompDPS         int   `json:"compDps"`
	NumberOfPlayers int   `json:"numberOfPlayers"`
	NumberOfGroups  int   `json:"numberOfGroups"`
	BossID          int   `json:"bossId"`
	GW2Build        int64 `json:"gw2Build"`
	JSONAvailable   bool  `json:"jsonAvailable"`
}

// Evtc describes the uploaded log file.
type Evtc struct {
	Type    string `json:"type"`
	Version string `json:"version"`
	BossID  int    `json:"bossId"`
}

// Diagnostic records a field that was present but could not be decoded.
type Diagnostic struct {
	Field  string
	Reason string
}

func (d Diagnostic) String() string {
	return d.Field + ": " + d.Reason
}

// Decode parses an upload response leniently. Each known field is decoded
// on its own; unknown fields are ignored and malformed ones are dropped
// with a Diagnostic. Keys match case-insensitively with or without
// underscores, so "user_token" and "userToken" are equivalent. Only a body
// that is not a JSON object fails.
func Decode(body []byte) (*Result, []Diagnostic, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, nil, &remote.DecodeError{Endpoint: remote.EndpointDPSReport, Cause: err}
	}

	r := &Result{}
	var diags []Diagnostic
	decodeFields(obj, "", []field{
		{"id", &r.ID},
		{"permalink", &r.Permalink},
		{"identifier", &r.Identifier},
		{"uploadtime", &r.UploadTime},
		{"encountertime", &r.EncounterTime},
		{"generator", &r.Generator},
		{"language", &r.Language},
		{"usertoken", &r.UserToken},
		{"error", &r.Error},
	}, &diags)

	if raw, ok := obj["encounter"]; ok && !isNull(raw) {
		sub, err := decodeObject(raw)
		if err != nil {
			diags = append(diags, Diagnostic{Field: "encounter", Reason: err.Error()})
		} else {
			e := &Encounter{}
			decodeFields(sub, "encounter.", []field{
				{"success", &e.Success},
				{"duration", &e.Duration},
				{"compdps", &e.CompDPS},
				{"numberofplayers", &e.NumberOfPlayers},
				{"numberofgroups", &e.NumberOfGroups},
				{"bossid", &e.BossID},
				{"gw2build", &e.GW2Build},
				{"jsonavailable", &e.JSONAvailable},
			}, &diags)
			r.Encounter = e
		}
	}

	if raw, ok := obj["evtc"]; ok && !isNull(raw) {
		sub, err := decodeObject(raw)
		if err != nil {
			diags = append(diags, Diagnostic{Field: "evtc", Reason: err.Error()})
		} else {
			ev := &Evtc{}
			decodeFields(sub, "evtc.", []field{
				{"type", &ev.Type},
				{"version", &ev.Version},
				{"bossid", &ev.BossID},
			}, &diags)
			r.Evtc = ev
		}
	}

	if raw, ok := obj["players"]; ok && !isNull(raw) {
		r.Players = raw
	}

	return r, diags, nil
}

// BossID returns the encounter's boss ID, falling back to the evtc header.
func (r *Result) BossID() (int, bool) {
	switch {
	case r.Encounter != nil && r.Encounter.BossID != 0:
		return r.Encounter.BossID, true
	case r.Evtc != nil && r.Evtc.BossID != 0:
		return r.Evtc.BossID, true
	}
	return 0, false
}

// ErrorMessage returns the server-reported error, or "".
func (r *Result) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

type field struct {
	key string // normalized
	dst any
}

func decodeFields(obj map[string]json.RawMessage, prefix string, fields []field, diags *[]Diagnostic) {
	for _, f := range fields {
		raw, ok := obj[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			*diags = append(*diags, Diagnostic{Field: prefix + f.key, Reason: unmarshalReason(err)})
		}
	}
}

// decodeObject unmarshals a JSON object into a map keyed by normalized names.
func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("expected JSON object: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("expected JSON object, got null")
	}
	out := make(map[string]json.RawMessage, len(raw))
	chosen := make(map[string]string, len(raw))
	for k, v := range raw {
		nk := normalizeKey(k)
		if prev, dup := chosen[nk]; dup && !preferKey(k, prev) {
			continue
		}
		chosen[nk] = k
		out[nk] = v
	}
	return out, nil
}

// preferKey reports whether k wins over prev when both normalize to the same
// name. A key without underscores beats an underscored alias; ties go to the
// lexically smaller key so the result does not depend on map order.
func preferKey(k, prev string) bool {
	ku, pu := strings.Contains(k, "_"), strings.Contains(prev, "_")
	if ku != pu {
		return !ku
	}
	return k < prev
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func unmarshalReason(err error) string {
	if te, ok := err.(*json.UnmarshalTypeError); ok {
		return fmt.Sprintf("cannot use %s as %s", te.Value, te.Type)
	}
	return err.Error()
}

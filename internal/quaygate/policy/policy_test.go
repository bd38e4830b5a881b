package policy

import (
	"testing"

	"github.com/quaygate/quaygate/internal/quaygate/types"
)

func TestAuthorized(t *testing.T) {
	halifax := types.CheckpointPolicy{
		CheckpointID: "cp-1",
		PortID:       "halifax",
		Location:     "north gate",
		AllowedRoles: []string{"janitor", "manager"},
	}

	cases := []struct {
		name      string
		roles     []string
		homePorts []string
		pol       types.CheckpointPolicy
		want      bool
	}{
		{"role and port match", []string{"janitor"}, []string{"halifax"}, halifax, true},
		{"second role matches", []string{"crane-operator", "manager"}, []string{"halifax"}, halifax, true},
		{"second port matches", []string{"janitor"}, []string{"vancouver", "halifax"}, halifax, true},
		{"role not allowed", []string{"crane-operator"}, []string{"halifax"}, halifax, false},
		{"wrong port", []string{"janitor"}, []string{"vancouver"}, halifax, false},
		{"no roles", nil, []string{"halifax"}, halifax, false},
		{"no ports", []string{"janitor"}, nil, halifax, false},
		{"empty policy", []string{"janitor"}, []string{"halifax"}, types.CheckpointPolicy{PortID: "halifax"}, false},
		{"zero everything", nil, nil, types.CheckpointPolicy{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Authorized(tc.roles, tc.homePorts, tc.pol); got != tc.want {
				t.Errorf("Authorized(%v, %v) = %v, want %v", tc.roles, tc.homePorts, got, tc.want)
			}
		})
	}
}

func TestAdmitUsesRecordFields(t *testing.T) {
	rec := types.WorkerRecord{
		WorkerID:  "w1",
		Roles:     []string{"janitor"},
		HomePorts: []string{"halifax"},
	}
	pol := types.CheckpointPolicy{CheckpointID: "cp-2", PortID: "halifax", AllowedRoles: []string{"manager"}}

	if Admit(rec, pol) {
		t.Error("expected janitor to be refused at a manager-only checkpoint")
	}

	pol.AllowedRoles = append(pol.AllowedRoles, "janitor")
	if !Admit(rec, pol) {
		t.Error("expected janitor to be admitted once the role is allowed")
	}
}

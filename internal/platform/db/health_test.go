package db

import "testing"

func TestRowPolicyStatus_Enforced(t *testing.T) {
	all := RowPolicyStatus{}
	for _, name := range policyTables {
		all[name] = true
	}
	if !all.Enforced() {
		t.Error("expected enforced when every table is protected")
	}

	all["billing"] = false
	if all.Enforced() {
		t.Error("expected not enforced when billing is unprotected")
	}

	if (RowPolicyStatus{}).Enforced() {
		t.Error("expected not enforced for empty status")
	}
}

func TestPoolStats_UnhealthyState(t *testing.T) {
	stats := &PoolStats{MaxConns: 20, AcquireDuration: "0s"}
	if stats.Healthy {
		t.Error("expected Healthy to be false when TotalConns is 0")
	}
}

package tenancy

import "testing"

func TestKeyspaceIsolation(t *testing.T) {
	a := NewKeyspace("tenant-a")
	b := NewKeyspace("tenant-b")

	pairs := [][2]string{
		{a.TaskQueue(), b.TaskQueue()},
		{a.ReviewQueue(), b.ReviewQueue()},
		{a.HITLQueue(), b.HITLQueue()},
		{a.CampaignKey("c1"), b.CampaignKey("c1")},
		{a.OutputKey("t1"), b.OutputKey("t1")},
		{a.HumanDecisionKey("t1"), b.HumanDecisionKey("t1")},
		{a.BudgetKey("agent"), b.BudgetKey("agent")},
	}
	for _, p := range pairs {
		if p[0] == p[1] {
			t.Fatalf("tenant keys collide: %q", p[0])
		}
	}
}

func TestKeyspaceDefaultTenant(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		ks := NewKeyspace(raw)
		if ks.Tenant() != DefaultTenant {
			t.Fatalf("tenant %q normalized to %q, want %q", raw, ks.Tenant(), DefaultTenant)
		}
	}
}

func TestKeyspaceSeparatorSanitized(t *testing.T) {
	// A tenant id embedding the separator must not alias another
	// tenant's resource namespace.
	a := NewKeyspace("a")
	crafted := NewKeyspace("a:campaign")
	if crafted.CampaignKey("x") == a.CampaignKey("campaign:x") {
		t.Fatalf("crafted tenant id aliases another tenant's campaign key")
	}
}

func TestKeyspaceEncodingIsInjective(t *testing.T) {
	// Distinct tenant ids must resolve to distinct namespaces even when
	// they differ only in separators, whitespace, or escape characters.
	ids := []string{
		"acme:eu", "acme eu", "acme-eu", "acme\teu",
		"acme%3Aeu", "acme%20eu", "acme%eu", "acme::eu", "acme  eu",
	}
	seen := make(map[string]string, len(ids))
	for _, id := range ids {
		key := NewKeyspace(id).TaskQueue()
		if prev, dup := seen[key]; dup {
			t.Fatalf("tenants %q and %q share key %q", prev, id, key)
		}
		seen[key] = id
	}
}

func TestKeyspaceZeroValue(t *testing.T) {
	var ks Keyspace
	if ks.Tenant() != DefaultTenant {
		t.Fatalf("zero keyspace tenant = %q, want %q", ks.Tenant(), DefaultTenant)
	}
	if ks.TaskQueue() != "tenant:default:queue:task" {
		t.Fatalf("unexpected task queue key %q", ks.TaskQueue())
	}
}

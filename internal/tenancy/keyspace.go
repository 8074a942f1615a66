// Package tenancy derives namespaced identifiers for every shared
// resource from a tenant identifier. All queue, state, and record keys
// flow through a Keyspace; no other package builds keys by hand.
package tenancy

import (
	"fmt"
	"strings"
	"unicode"
)

const DefaultTenant = "default"

// Keyspace generates tenant-scoped keys with the convention
// tenant:<tenant_id>:<namespace>[:<id>].
type Keyspace struct {
	tenant string
}

func NewKeyspace(tenant string) Keyspace {
	return Keyspace{tenant: normalize(tenant)}
}

// normalize maps blank tenant ids to the default tenant and
// percent-escapes the key separator, whitespace, and the escape
// character itself. The encoding is injective: two distinct non-blank
// tenant ids can never produce the same derived key.
func normalize(tenant string) string {
	if strings.TrimSpace(tenant) == "" {
		return DefaultTenant
	}
	var b strings.Builder
	for _, r := range tenant {
		if r == ':' || r == '%' || unicode.IsSpace(r) {
			for _, byt := range []byte(string(r)) {
				fmt.Fprintf(&b, "%%%02X", byt)
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (k Keyspace) Tenant() string {
	if k.tenant == "" {
		return DefaultTenant
	}
	return k.tenant
}

func (k Keyspace) prefix() string {
	return "tenant:" + k.Tenant()
}

func (k Keyspace) TaskQueue() string {
	return k.prefix() + ":queue:task"
}

func (k Keyspace) ReviewQueue() string {
	return k.prefix() + ":queue:review"
}

func (k Keyspace) HITLQueue() string {
	return k.prefix() + ":queue:hitl"
}

func (k Keyspace) CampaignKey(campaignID string) string {
	return k.prefix() + ":campaign:" + campaignID
}

func (k Keyspace) OutputKey(taskID string) string {
	return k.prefix() + ":output:" + taskID
}

func (k Keyspace) HumanDecisionKey(taskID string) string {
	return k.prefix() + ":decision:" + taskID
}

func (k Keyspace) BudgetKey(agentID string) string {
	return k.prefix() + ":budget:" + agentID
}

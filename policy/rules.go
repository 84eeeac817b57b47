package policy

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/hammadnadeem/employeekit/descriptor"
)

// Rules holds the configured thresholds and authority grants.
type Rules struct {
	// AutoApproveLimit is the dollar amount below which monetary
	// actions proceed without approval.
	AutoApproveLimit float64

	// AlertLimit is the dollar amount above which approval is required
	// and an immediate highest-severity alert is raised.
	AlertLimit float64

	// MaxRecipients gates actions affecting more external recipients
	// than this. Zero disables the check.
	MaxRecipients int

	// GateUnseenCounterparty requires approval on first contact with a
	// counterparty not in the ledger.
	GateUnseenCounterparty bool

	// GateDeletion requires approval for any action that deletes data.
	GateDeletion bool

	// TypePriorities maps task types to dispatch priorities. Unknown
	// types default to P2.
	TypePriorities map[string]descriptor.Priority

	// Authority restricts which actions may run at all.
	Authority Authority
}

// Authority is the action allow/deny configuration. Deny wins; an
// empty allow list grants everything not denied.
type Authority struct {
	Allowed []string
	Denied  []string
}

// DefaultRules returns the thresholds used when no rules file is given.
func DefaultRules() Rules {
	return Rules{
		AutoApproveLimit:       50,
		AlertLimit:             500,
		MaxRecipients:          10,
		GateUnseenCounterparty: true,
		GateDeletion:           true,
		TypePriorities: map[string]descriptor.Priority{
			"payment_failure":  descriptor.PriorityP0,
			"security_alert":   descriptor.PriorityP0,
			"customer_request": descriptor.PriorityP1,
			"email_reply":      descriptor.PriorityP1,
			"invoice":          descriptor.PriorityP2,
			"report":           descriptor.PriorityP3,
			"maintenance":      descriptor.PriorityP3,
		},
	}
}

// tomlRules is the TOML representation of Rules.
type tomlRules struct {
	AutoApproveLimit       *float64          `toml:"auto_approve_limit"`
	AlertLimit             *float64          `toml:"alert_limit"`
	MaxRecipients          *int              `toml:"max_recipients"`
	GateUnseenCounterparty *bool             `toml:"gate_unseen_counterparty"`
	GateDeletion           *bool             `toml:"gate_deletion"`
	TypePriorities         map[string]string `toml:"type_priorities"`
	Authority              *struct {
		Allowed []string `toml:"allowed"`
		Denied  []string `toml:"denied"`
	} `toml:"authority"`
}

// LoadRules loads rules from a TOML file, applying defaults for any
// field the file omits.
func LoadRules(path string) (Rules, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("policy: read rules file: %w", err)
	}
	return ParseRules(string(content))
}

// ParseRules parses rules from TOML content.
func ParseRules(content string) (Rules, error) {
	var raw tomlRules
	if _, err := toml.Decode(content, &raw); err != nil {
		return Rules{}, fmt.Errorf("policy: parse rules: %w", err)
	}

	rules := DefaultRules()
	if raw.AutoApproveLimit != nil {
		rules.AutoApproveLimit = *raw.AutoApproveLimit
	}
	if raw.AlertLimit != nil {
		rules.AlertLimit = *raw.AlertLimit
	}
	if raw.MaxRecipients != nil {
		rules.MaxRecipients = *raw.MaxRecipients
	}
	if raw.GateUnseenCounterparty != nil {
		rules.GateUnseenCounterparty = *raw.GateUnseenCounterparty
	}
	if raw.GateDeletion != nil {
		rules.GateDeletion = *raw.GateDeletion
	}
	if raw.TypePriorities != nil {
		rules.TypePriorities = make(map[string]descriptor.Priority, len(raw.TypePriorities))
		for taskType, value := range raw.TypePriorities {
			p, err := descriptor.ParsePriority(value)
			if err != nil {
				return Rules{}, fmt.Errorf("policy: type_priorities[%s]: %w", taskType, err)
			}
			rules.TypePriorities[taskType] = p
		}
	}
	if raw.Authority != nil {
		rules.Authority = Authority{
			Allowed: raw.Authority.Allowed,
			Denied:  raw.Authority.Denied,
		}
	}

	if err := rules.validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) validate() error {
	if r.AutoApproveLimit < 0 {
		return fmt.Errorf("policy: auto_approve_limit must not be negative")
	}
	if r.AlertLimit < r.AutoApproveLimit {
		return fmt.Errorf("policy: alert_limit %.2f below auto_approve_limit %.2f",
			r.AlertLimit, r.AutoApproveLimit)
	}
	if r.MaxRecipients < 0 {
		return fmt.Errorf("policy: max_recipients must not be negative")
	}
	return nil
}

package policy

import (
	"strings"
	"testing"

	"github.com/hammadnadeem/employeekit/descriptor"
	"github.com/hammadnadeem/employeekit/errors"
)

func testEngine() *Engine {
	return NewEngine(DefaultRules(), NewMemoryLedger("ACME Corp", "Globex"))
}

func TestClassifyAmounts(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name         string
		amount       float64
		wantApproval bool
		wantAlert    bool
		wantPriority descriptor.Priority
	}{
		{"small amount auto", 42, false, false, descriptor.PriorityP2},
		{"zero amount auto", 0, false, false, descriptor.PriorityP2},
		{"at threshold requires approval", 50, true, false, descriptor.PriorityP2},
		{"mid range requires approval", 120, true, false, descriptor.PriorityP2},
		{"at alert limit requires approval only", 500, true, false, descriptor.PriorityP2},
		{"over alert limit escalates to P0", 600, true, true, descriptor.PriorityP0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := descriptor.New("invoice", "pay vendor")
			d.Amount = tt.amount
			d.Counterparty = "ACME Corp"

			dec := e.Classify(d)
			if dec.RequiresApproval != tt.wantApproval {
				t.Errorf("RequiresApproval = %v, want %v", dec.RequiresApproval, tt.wantApproval)
			}
			if dec.Alert != tt.wantAlert {
				t.Errorf("Alert = %v, want %v", dec.Alert, tt.wantAlert)
			}
			if dec.Priority != tt.wantPriority {
				t.Errorf("Priority = %v, want %v", dec.Priority, tt.wantPriority)
			}
			if tt.wantApproval && len(dec.Reasons) == 0 {
				t.Error("approval required but no reason recorded")
			}
		})
	}
}

func TestClassifyUnseenCounterparty(t *testing.T) {
	e := testEngine()

	d := descriptor.New("email_reply", "reply to new vendor")
	d.Counterparty = "Initech"
	dec := e.Classify(d)
	if !dec.RequiresApproval {
		t.Error("first contact should require approval")
	}

	d.Counterparty = "acme corp" // ledger matching is case-insensitive
	dec = e.Classify(d)
	if dec.RequiresApproval {
		t.Errorf("known counterparty gated: %v", dec.Reasons)
	}

	d.Counterparty = ""
	dec = e.Classify(d)
	if dec.RequiresApproval {
		t.Error("no counterparty should not trigger the unseen gate")
	}
}

func TestClassifyRecipientsAndDeletion(t *testing.T) {
	e := testEngine()

	d := descriptor.New("report", "send weekly report")
	d.Recipients = 11
	dec := e.Classify(d)
	if !dec.RequiresApproval {
		t.Error("11 recipients should require approval")
	}

	d.Recipients = 10
	dec = e.Classify(d)
	if dec.RequiresApproval {
		t.Errorf("10 recipients gated: %v", dec.Reasons)
	}

	d2 := descriptor.New("maintenance", "purge old exports")
	d2.DeletesData = true
	dec = e.Classify(d2)
	if !dec.RequiresApproval {
		t.Error("deletion should require approval")
	}
}

func TestClassifyReasonsAccumulate(t *testing.T) {
	e := testEngine()

	d := descriptor.New("invoice", "pay everyone")
	d.Amount = 700
	d.Counterparty = "Initech"
	d.Recipients = 20
	d.DeletesData = true

	dec := e.Classify(d)
	if len(dec.Reasons) != 4 {
		t.Errorf("reasons = %d (%v), want 4", len(dec.Reasons), dec.Reasons)
	}
	if !dec.Alert || dec.Priority != descriptor.PriorityP0 {
		t.Errorf("alert=%v priority=%v, want alert at P0", dec.Alert, dec.Priority)
	}
}

func TestClassifyTypePriorities(t *testing.T) {
	e := testEngine()

	tests := map[string]descriptor.Priority{
		"payment_failure": descriptor.PriorityP0,
		"security_alert":  descriptor.PriorityP0,
		"email_reply":     descriptor.PriorityP1,
		"invoice":         descriptor.PriorityP2,
		"maintenance":     descriptor.PriorityP3,
		"never_seen_type": descriptor.PriorityP2,
	}
	for taskType, want := range tests {
		d := descriptor.New(taskType, "task")
		if got := e.Classify(d).Priority; got != want {
			t.Errorf("Classify(%s).Priority = %v, want %v", taskType, got, want)
		}
	}
}

func TestClassifyIsPure(t *testing.T) {
	e := testEngine()
	d := descriptor.New("invoice", "pay vendor")
	d.Amount = 120

	first := e.Classify(d)
	second := e.Classify(d)
	if first.RequiresApproval != second.RequiresApproval || first.Priority != second.Priority {
		t.Error("classification is not deterministic")
	}
	if d.RequiresApproval || d.Priority != descriptor.PriorityP2 {
		t.Error("Classify mutated the descriptor")
	}
}

func TestAuthorize(t *testing.T) {
	rules := DefaultRules()
	rules.Authority = Authority{
		Allowed: []string{"send_email *", "generate_report", "pay_invoice *"},
		Denied:  []string{"pay_invoice --force *"},
	}
	e := NewEngine(rules, nil)

	tests := []struct {
		action  string
		allowed bool
	}{
		{"send_email vendor@acme.com", true},
		{"generate_report", true},
		{"pay_invoice INV-42", true},
		{"pay_invoice --force INV-42", false}, // deny wins over allow
		{"drop_database prod", false},         // not in allow list
		{"send_email x; rm -rf /", false},     // metacharacters never match
	}
	for _, tt := range tests {
		err := e.Authorize(tt.action)
		if tt.allowed && err != nil {
			t.Errorf("Authorize(%q) = %v, want allowed", tt.action, err)
		}
		if !tt.allowed {
			if err == nil {
				t.Errorf("Authorize(%q) allowed, want denied", tt.action)
				continue
			}
			if !errors.IsKind(err, errors.KindPolicyViolation) {
				t.Errorf("Authorize(%q) kind = %v, want policy_violation", tt.action, errors.KindOf(err))
			}
		}
	}
}

func TestAuthorizeEmptyAllowGrantsAll(t *testing.T) {
	rules := DefaultRules()
	rules.Authority = Authority{Denied: []string{"rm *"}}
	e := NewEngine(rules, nil)

	if err := e.Authorize("anything at all"); err != nil {
		t.Errorf("unexpected denial: %v", err)
	}
	if err := e.Authorize("rm -rf workspace"); err == nil {
		t.Error("denied pattern should block")
	}
}

func TestParseRules(t *testing.T) {
	content := `
auto_approve_limit = 25.0
alert_limit = 1000.0
max_recipients = 5
gate_unseen_counterparty = false

[type_priorities]
refund = "P1"

[authority]
allowed = ["send_email *"]
denied = ["wire_transfer *"]
`
	rules, err := ParseRules(content)
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	if rules.AutoApproveLimit != 25 || rules.AlertLimit != 1000 || rules.MaxRecipients != 5 {
		t.Errorf("thresholds = %+v", rules)
	}
	if rules.GateUnseenCounterparty {
		t.Error("gate_unseen_counterparty not applied")
	}
	if !rules.GateDeletion {
		t.Error("omitted field should keep its default")
	}
	if rules.TypePriorities["refund"] != descriptor.PriorityP1 {
		t.Errorf("type_priorities = %v", rules.TypePriorities)
	}
	if len(rules.Authority.Allowed) != 1 || len(rules.Authority.Denied) != 1 {
		t.Errorf("authority = %+v", rules.Authority)
	}
}

func TestParseRulesErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad toml", "auto_approve_limit = ", "parse rules"},
		{"bad priority", "[type_priorities]\nrefund = \"P9\"\n", "type_priorities"},
		{"inverted limits", "auto_approve_limit = 100.0\nalert_limit = 10.0\n", "below auto_approve_limit"},
		{"negative limit", "auto_approve_limit = -1.0\n", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules(tt.content)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

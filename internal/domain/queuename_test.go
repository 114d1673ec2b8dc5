package domain

import "testing"

func TestQueueNames(t *testing.T) {
	if got := CommandQueue("payments"); got != "payments__commands" {
		t.Errorf("CommandQueue = %q, want payments__commands", got)
	}
	if got := ReplyQueue("payments"); got != "payments__replies" {
		t.Errorf("ReplyQueue = %q, want payments__replies", got)
	}
	if got := ProcessReplyQueue("payments"); got != "payments__process_replies" {
		t.Errorf("ProcessReplyQueue = %q, want payments__process_replies", got)
	}
	if got := NotifyChannel("payments__commands"); got != "payments__commands_notify" {
		t.Errorf("NotifyChannel = %q, want payments__commands_notify", got)
	}
}

func TestConfigureQueueSuffixes(t *testing.T) {
	t.Cleanup(func() {
		if err := ConfigureQueueSuffixes(DefaultCommandSuffix, DefaultReplySuffix); err != nil {
			t.Fatalf("restore default suffixes: %v", err)
		}
	})

	if err := ConfigureQueueSuffixes("cmd", "rsp"); err != nil {
		t.Fatalf("ConfigureQueueSuffixes: %v", err)
	}
	if got := CommandQueue("payments"); got != "payments__cmd" {
		t.Errorf("CommandQueue = %q, want payments__cmd", got)
	}
	if got := ReplyQueue("payments"); got != "payments__rsp" {
		t.Errorf("ReplyQueue = %q, want payments__rsp", got)
	}
	// The process reply queue keeps its fixed suffix so routers always
	// find their queue.
	if got := ProcessReplyQueue("payments"); got != "payments__process_replies" {
		t.Errorf("ProcessReplyQueue = %q, want payments__process_replies", got)
	}
}

func TestConfigureQueueSuffixesRejectsBadInput(t *testing.T) {
	cases := []struct{ command, reply string }{
		{"Commands", "replies"},
		{"commands", "re.plies"},
		{"", "replies"},
		{"same", "same"},
	}
	for _, c := range cases {
		if err := ConfigureQueueSuffixes(c.command, c.reply); err == nil {
			t.Errorf("ConfigureQueueSuffixes(%q, %q) = nil, want error", c.command, c.reply)
		}
	}
	// Rejected calls must not disturb the configured suffixes.
	if got := CommandQueue("payments"); got != "payments__commands" {
		t.Errorf("CommandQueue after rejected configure = %q", got)
	}
}

func TestValidDomain(t *testing.T) {
	valid := []string{"payments", "order_fulfillment", "a", "shard7"}
	for _, name := range valid {
		if !ValidDomain(name) {
			t.Errorf("ValidDomain(%q) = false, want true", name)
		}
	}

	invalid := []string{"", "Payments", "with.dot", "double__underscore", "7start", "_lead"}
	for _, name := range invalid {
		if ValidDomain(name) {
			t.Errorf("ValidDomain(%q) = true, want false", name)
		}
	}
}

func TestCheckDomain(t *testing.T) {
	if err := CheckDomain("payments"); err != nil {
		t.Errorf("CheckDomain(payments) = %v, want nil", err)
	}
	if err := CheckDomain("bad.name"); err == nil {
		t.Error("CheckDomain(bad.name) = nil, want error")
	}
}

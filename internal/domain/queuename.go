package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Queue name construction. PGMQ rejects dots in queue names, so the
// canonical separator is a double underscore. The command and reply
// suffixes are configurable (config keys queue_suffix and reply_suffix);
// the process reply suffix is fixed so routers always find their queue.
const (
	QueueSeparator     = "__"
	ProcessReplySuffix = "process_replies"
	NotifySuffix       = "_notify"

	DefaultCommandSuffix = "commands"
	DefaultReplySuffix   = "replies"
)

var (
	commandSuffix = DefaultCommandSuffix
	replySuffix   = DefaultReplySuffix
)

var domainNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ConfigureQueueSuffixes overrides the command and reply queue suffixes.
// Call once at startup, before any queue names are built; the builders
// read the suffixes without locking.
func ConfigureQueueSuffixes(command, reply string) error {
	if !domainNameRe.MatchString(command) || !domainNameRe.MatchString(reply) {
		return fmt.Errorf("queue suffixes must match %s, got %q and %q", domainNameRe, command, reply)
	}
	if command == reply {
		return fmt.Errorf("command and reply queue suffixes must differ, both are %q", command)
	}
	commandSuffix, replySuffix = command, reply
	return nil
}

// ValidDomain reports whether name is usable as a domain (and therefore as
// a queue name component).
func ValidDomain(name string) bool {
	return name != "" && !strings.Contains(name, QueueSeparator) && domainNameRe.MatchString(name)
}

// CommandQueue returns the command queue name for a domain.
func CommandQueue(domain string) string {
	return domain + QueueSeparator + commandSuffix
}

// ReplyQueue returns the shared reply queue name for a domain.
func ReplyQueue(domain string) string {
	return domain + QueueSeparator + replySuffix
}

// ProcessReplyQueue returns the process reply router queue for a domain.
func ProcessReplyQueue(domain string) string {
	return domain + QueueSeparator + ProcessReplySuffix
}

// NotifyChannel returns the notification channel name for a queue.
func NotifyChannel(queue string) string {
	return queue + NotifySuffix
}

// CheckDomain returns an error when name is not a valid domain.
func CheckDomain(name string) error {
	if !ValidDomain(name) {
		return fmt.Errorf("invalid domain %q: must match %s and not contain %q", name, domainNameRe, QueueSeparator)
	}
	return nil
}

package pgmq

import (
	"testing"
	"time"
)

func TestCheckQueueName(t *testing.T) {
	valid := []string{"payments__commands", "a", "q_1", "orders__process_replies"}
	for _, q := range valid {
		if err := checkQueueName(q); err != nil {
			t.Errorf("checkQueueName(%q) = %v, want nil", q, err)
		}
	}

	invalid := []string{"", "With.Dot", "UPPER", "has space", "x; DROP TABLE t", string(make([]byte, 48))}
	for _, q := range invalid {
		if err := checkQueueName(q); err == nil {
			t.Errorf("checkQueueName(%q) = nil, want error", q)
		}
	}
}

func TestSeconds(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Second, 1},
		{1500 * time.Millisecond, 2}, // rounds up so leases never undershoot
		{30 * time.Second, 30},
	}
	for _, c := range cases {
		if got := seconds(c.in); got != c.want {
			t.Errorf("seconds(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

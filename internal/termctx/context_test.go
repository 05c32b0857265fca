package termctx

import "testing"

func TestFIFOEvictionRecentOutput(t *testing.T) {
	c := New("/home", "/bin/bash", "linux", "kevin", "box")
	for i := 0; i < RecentOutputCap+10; i++ {
		c.AppendOutput(string(rune('a' + i%26)))
	}
	out := c.RecentOutput()
	if len(out) != RecentOutputCap {
		t.Fatalf("len = %d, want %d", len(out), RecentOutputCap)
	}
}

func TestFIFOEvictionCommandHistory(t *testing.T) {
	c := New("/home", "/bin/bash", "linux", "kevin", "box")
	for i := 0; i < CommandHistoryCap+5; i++ {
		c.AddCommandResult(CommandHistoryEntry{Command: string(rune('a' + i%26))})
	}
	if c.CommandHistoryLen() != CommandHistoryCap {
		t.Fatalf("CommandHistoryLen = %d, want %d", c.CommandHistoryLen(), CommandHistoryCap)
	}
}

func TestEnterExitContainerRoundTrip(t *testing.T) {
	c := New("/home/user", "/bin/zsh", "macos", "kevin", "macbook")

	c.EnterContainer("abc123", "docker", "/bin/bash")

	if !c.InContainer() {
		t.Fatal("InContainer() = false after EnterContainer")
	}
	if c.OS != "linux" || c.Shell != "/bin/bash" || c.Cwd != "/" || c.Hostname != "abc123" {
		t.Fatalf("unexpected post-enter state: %+v", c)
	}
	if c.Username != "kevin" {
		t.Fatalf("Username = %q, want unchanged kevin", c.Username)
	}

	c.ExitContainer()

	if c.InContainer() {
		t.Fatal("InContainer() = true after ExitContainer")
	}
	if c.OS != "macos" || c.Shell != "/bin/zsh" || c.Cwd != "/home/user" || c.Username != "kevin" || c.Hostname != "macbook" {
		t.Fatalf("exit did not restore exact pre-enter state: %+v", c)
	}
}

func TestExitContainerWithoutEnteringIsNoOp(t *testing.T) {
	c := New("/home", "/bin/bash", "linux", "kevin", "box")
	c.ExitContainer()
	if c.InContainer() {
		t.Fatal("InContainer() = true after no-op ExitContainer")
	}
}

func TestComputeSuccess(t *testing.T) {
	c := New("/home", "/bin/bash", "linux", "kevin", "box")
	zero, nonzero := 0, 1

	if !c.ComputeSuccess(&zero, "all good") {
		t.Error("expected success for exit 0 with clean output")
	}
	if c.ComputeSuccess(&nonzero, "all good") {
		t.Error("expected failure for nonzero exit")
	}
	if c.ComputeSuccess(&zero, "bash: foo: command not found") {
		t.Error("expected failure when output contains an error phrase despite exit 0")
	}
}

func TestFormatConversationForPreambleTruncates(t *testing.T) {
	c := New("/home", "/bin/bash", "linux", "kevin", "box")
	longInput := ""
	for i := 0; i < 200; i++ {
		longInput += "x"
	}
	c.AddConversationTurn(ConversationTurn{UserInput: longInput, TimestampMs: Now()})
	out := c.FormatConversationForPreamble(Now())
	if out == "" {
		t.Fatal("expected non-empty preamble block")
	}
}

func TestFormatSummariesEmptyWhenNoSummaries(t *testing.T) {
	c := New("/home", "/bin/bash", "linux", "kevin", "box")
	if got := c.FormatSummariesForPreamble(Now()); got != "" {
		t.Fatalf("expected empty summaries block, got %q", got)
	}
}

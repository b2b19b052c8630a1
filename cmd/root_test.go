package cmd

import (
	"io"
	"testing"
)

func TestExecuteFlushesLogsOnFailure(t *testing.T) {
	synced := false
	orig := syncLogs
	syncLogs = func() { synced = true }
	rootCmd.SetArgs([]string{"no-such-command"})
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	t.Cleanup(func() {
		syncLogs = orig
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	if code := execute(); code != 1 {
		t.Errorf("execute() = %d, want 1", code)
	}
	if !synced {
		t.Error("logs were not flushed before exit")
	}
}

package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRootCmd_RejectsExtraArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"4000", "5000"})
	require.Error(t, cmd.Execute())
}

func TestRootCmd_RejectsBadPort(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"not-a-port"})
	require.Error(t, cmd.Execute())
}

func TestWatchStdin_StopLine(t *testing.T) {
	stopCh := make(chan string, 1)
	go watchStdin(strings.NewReader("help\n  stop \nignored\n"), stopCh)

	select {
	case got := <-stopCh:
		require.Equal(t, "stop", got)
	case <-time.After(time.Second):
		t.Fatal("stop not signalled")
	}
}

func TestWatchStdin_EOFDoesNotStop(t *testing.T) {
	stopCh := make(chan string, 1)
	watchStdin(strings.NewReader("status\n"), stopCh)

	select {
	case got := <-stopCh:
		t.Fatalf("unexpected stop signal %q", got)
	default:
	}
}

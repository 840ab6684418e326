package planmode

import (
	"context"
	"encoding/json"
	"testing"
)

func TestStateLifecycle(t *testing.T) {
	s := NewState()
	if s.Active() {
		t.Fatal("new state must start inactive")
	}
	if !s.Enter() {
		t.Fatal("enter failed")
	}
	if s.Enter() {
		t.Fatal("double enter must fail")
	}
	if !s.ConsumeEntered() {
		t.Fatal("entered flag missing")
	}
	if s.ConsumeEntered() {
		t.Fatal("entered flag must fire once")
	}
	if !s.Exit("step 1\nstep 2") {
		t.Fatal("exit failed")
	}
	if s.Exit("again") {
		t.Fatal("double exit must fail")
	}
	plan, ok := s.ConsumeExited()
	if !ok || plan != "step 1\nstep 2" {
		t.Fatalf("exit plan = %q, ok=%v", plan, ok)
	}
	if _, ok := s.ConsumeExited(); ok {
		t.Fatal("exited flag must fire once")
	}
}

func TestTools(t *testing.T) {
	s := NewState()
	enter := NewEnterTool(s)
	exit := NewExitTool(s)

	result, err := exit.Execute(context.Background(), json.RawMessage(`{"plan":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("exit outside plan mode must error")
	}

	result, err = enter.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("enter failed: %s", result.Content)
	}
	if !s.Active() {
		t.Fatal("state not active after enter tool")
	}

	result, err = exit.Execute(context.Background(), json.RawMessage(`{"plan":""}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("empty plan must be rejected")
	}

	result, err = exit.Execute(context.Background(), json.RawMessage(`{"plan":"do the thing"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("exit failed: %s", result.Content)
	}
	if s.Active() {
		t.Fatal("state still active after exit tool")
	}
	if s.Plan() != "do the thing" {
		t.Fatalf("plan = %q", s.Plan())
	}
}

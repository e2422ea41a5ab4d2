package windowgroup

import "testing"

func TestConnectWindowFormsNewGroup(t *testing.T) {
	p := New()
	p.ConnectWindow("parent", "child")

	if got := p.GetGroupID("parent"); got != "parent" {
		t.Errorf("GetGroupID(parent) = %q, want parent", got)
	}
	if got := p.GetGroupID("child"); got != "parent" {
		t.Errorf("GetGroupID(child) = %q, want parent", got)
	}
}

func TestConnectWindowMultipleChildrenInEmissionOrder(t *testing.T) {
	p := New()
	p.ConnectWindow("parent", "c1")
	p.ConnectWindow("parent", "c2")
	p.ConnectWindow("parent", "c3")

	for _, id := range []string{"c1", "c2", "c3"} {
		if got := p.GetGroupID(id); got != "parent" {
			t.Errorf("GetGroupID(%s) = %q, want parent", id, got)
		}
	}
}

func TestGetGroupIDStandaloneReturnsEmpty(t *testing.T) {
	p := New()
	if got := p.GetGroupID("solo"); got != "" {
		t.Errorf("GetGroupID(solo) = %q, want empty", got)
	}
}

func TestHandleCloseStandaloneAlwaysDisposes(t *testing.T) {
	p := New()
	if !p.HandleClose("solo") {
		t.Error("HandleClose(solo) = false, want true for standalone window")
	}
}

func TestHandleCloseDisposesOnlyAfterLastMember(t *testing.T) {
	p := New()
	p.ConnectWindow("parent", "child")

	if p.HandleClose("child") {
		t.Error("HandleClose(child) = true, want false: parent still open")
	}
	if !p.HandleClose("parent") {
		t.Error("HandleClose(parent) = false, want true: last member gone")
	}
}

func TestHandleCloseUnknownWindowNotInGroup(t *testing.T) {
	p := New()
	p.ConnectWindow("parent", "child")

	// closing the same child twice: second call sees it already removed
	// from the group map, so it is treated as standalone and disposes.
	p.HandleClose("child")
	if !p.HandleClose("child") {
		t.Error("second HandleClose(child) = false, want true (no longer grouped)")
	}
}

func TestClearRemovesAllGroups(t *testing.T) {
	p := New()
	p.ConnectWindow("parent", "child")
	p.Clear()

	if got := p.GetGroupID("parent"); got != "" {
		t.Errorf("GetGroupID(parent) after Clear = %q, want empty", got)
	}
}

package meander_test

import (
	"testing"

	"github.com/meanderkit/meander"
)

type parentResource struct {
	meander.BaseResource
	childState meander.State
	childValue string
}

func newParentResource() meander.Resource {
	parent := &parentResource{}
	parent.AddSubroute("/child/{childId}", newChildResource)
	parent.AddSubroute("/settings", func() meander.Resource { return &plainResource{} })
	return parent
}

func (r *parentResource) ChildContext() meander.ChildContext {
	return meander.ChildContext{
		Values: map[string]any{"greeting": r.childValue},
		State:  r.childState,
	}
}

type childResource struct {
	meander.BaseResource
}

func newChildResource() meander.Resource {
	child := &childResource{}
	child.AddSubroute("/grand/{pid}", func() meander.Resource { return &grandchildResource{} })
	return child
}

type grandchildResource struct {
	meander.BaseResource
}

func TestNestedResourceResolution(t *testing.T) {
	router := meander.NewRouter()
	router.AddRoute("/parents/{pid}", newParentResource)

	conn, _ := connect(t, router, "/parents/42/child/7")

	child, ok := conn.Target().(*childResource)
	if !ok {
		t.Fatalf("expected child resource, got %T", conn.Target())
	}
	if got := child.Params().Get("pid"); got != "42" {
		t.Errorf("expected pid=42, got %q", got)
	}
	if got := child.Params().Get("childId"); got != "7" {
		t.Errorf("expected childId=7, got %q", got)
	}

	if len(conn.Chain()) != 2 {
		t.Fatalf("expected chain of 2 resources, got %d", len(conn.Chain()))
	}
	if _, ok := conn.Chain()[0].(*parentResource); !ok {
		t.Errorf("expected chain root to be the parent, got %T", conn.Chain()[0])
	}
}

func TestNestedParamShadowing(t *testing.T) {
	router := meander.NewRouter()
	router.AddRoute("/parents/{pid}", newParentResource)

	conn, _ := connect(t, router, "/parents/42/child/7/grand/99")

	grand, ok := conn.Target().(*grandchildResource)
	if !ok {
		t.Fatalf("expected grandchild resource, got %T", conn.Target())
	}
	if got := grand.Params().Get("pid"); got != "99" {
		t.Errorf("expected deeper pid to shadow the outer value, got %q", got)
	}
	if got := grand.Params().Get("childId"); got != "7" {
		t.Errorf("expected accumulated childId=7, got %q", got)
	}
	if len(conn.Chain()) != 3 {
		t.Fatalf("expected chain of 3 resources, got %d", len(conn.Chain()))
	}
}

func TestNestedStateSharedByReference(t *testing.T) {
	router := meander.NewRouter()
	router.AddRoute("/parents/{pid}", newParentResource)

	conn, _ := connect(t, router, "/parents/42/child/7")

	parent := conn.Chain()[0].(*parentResource)
	child := conn.Target().(*childResource)

	parent.State()["shared"] = "yes"
	if got := child.State()["shared"]; got != "yes" {
		t.Errorf("expected child to observe parent state mutation, got %v", got)
	}
	child.State()["back"] = "also"
	if got := parent.State()["back"]; got != "also" {
		t.Errorf("expected parent to observe child state mutation, got %v", got)
	}
}

func TestNestedChildContext(t *testing.T) {
	replacement := meander.State{"fresh": true}

	router := meander.NewRouter()
	router.AddRoute("/parents/{pid}", func() meander.Resource {
		parent := newParentResource().(*parentResource)
		parent.childValue = "hello"
		parent.childState = replacement
		return parent
	})

	conn, _ := connect(t, router, "/parents/42/child/7")
	child := conn.Target().(*childResource)

	if got := child.ContextValue("greeting"); got != "hello" {
		t.Errorf("expected child context value, got %v", got)
	}
	if got := child.State()["fresh"]; got != true {
		t.Errorf("expected replacement state, got %v", got)
	}

	parent := conn.Chain()[0].(*parentResource)
	parent.State()["outer"] = true
	if _, ok := child.State()["outer"]; ok {
		t.Error("replacement state must not alias the parent state")
	}
}

func TestNestedNoMatchFallsThrough(t *testing.T) {
	router := meander.NewRouter()
	router.AddRoute("/parents/{pid}", newParentResource)
	router.AddRoute("/parents/{pid}/other", plainFactory)

	// /parents/42/other doesn't match any subroute of the parent, but a
	// later registered route covers it.
	conn, _ := connect(t, router, "/parents/42/other")
	if _, ok := conn.Target().(*plainResource); !ok {
		t.Errorf("expected fall-through to the later route, got %T", conn.Target())
	}
}

func TestDuplicateSubroutePanics(t *testing.T) {
	parent := &parentResource{}
	parent.AddSubroute("/child", newChildResource)

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate subroute to panic")
		}
	}()
	parent.AddSubroute("/child/", newChildResource)
}

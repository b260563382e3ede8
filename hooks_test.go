package meander_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/meanderkit/meander"
)

// orderedHook appends a label to trace each time the hook fires.
func orderedHook(trace *[]string, label string) meander.Hook {
	return func(ctx context.Context, hctx *meander.HookContext) error {
		*trace = append(*trace, label)
		return nil
	}
}

func hookTestRouter(trace *[]string) *meander.Router {
	globalHooks := meander.NewHookCollection(nil)
	globalHooks.MustAdd(meander.BeforeConnect, orderedHook(trace, "global.before_connect"))
	globalHooks.MustAdd(meander.AfterConnect, orderedHook(trace, "global.after_connect"))
	globalHooks.MustAdd(meander.BeforeReceive, orderedHook(trace, "global.before_receive"))
	globalHooks.MustAdd(meander.AfterReceive, orderedHook(trace, "global.after_receive"))

	parentHooks := meander.NewHookCollection(nil)
	parentHooks.MustAdd(meander.BeforeConnect, orderedHook(trace, "parent.before_connect"))
	parentHooks.MustAdd(meander.AfterConnect, orderedHook(trace, "parent.after_connect"))
	parentHooks.MustAdd(meander.BeforeReceive, orderedHook(trace, "parent.before_receive"))
	parentHooks.MustAdd(meander.AfterReceive, orderedHook(trace, "parent.after_receive"))

	childHooks := meander.NewHookCollection(nil)
	childHooks.MustAdd(meander.BeforeConnect, orderedHook(trace, "child.before_connect"))
	childHooks.MustAdd(meander.AfterConnect, orderedHook(trace, "child.after_connect"))
	childHooks.MustAdd(meander.BeforeReceive, orderedHook(trace, "child.before_receive"))
	childHooks.MustAdd(meander.AfterReceive, orderedHook(trace, "child.after_receive"))

	childTable := meander.NewHandlerTable()
	childTable.Register("ping", func(ctx context.Context, sock meander.Socket, payload any) error {
		*trace = append(*trace, "handler")
		return nil
	})

	router := meander.NewRouter(meander.WithHooks(globalHooks))
	router.AddRoute("/parents/{pid}", func() meander.Resource {
		parent := &parentResource{}
		parent.UseHooks(parentHooks)
		parent.AddSubroute("/child", func() meander.Resource {
			child := &childResource{}
			child.UseHooks(childHooks)
			child.UseHandlers(childTable)
			return child
		})
		return parent
	})
	return router
}

func TestHookOnionOrderOnConnect(t *testing.T) {
	var trace []string
	router := hookTestRouter(&trace)

	connect(t, router, "/parents/42/child")

	expected := []string{
		"global.before_connect",
		"parent.before_connect",
		"child.before_connect",
		"child.after_connect",
		"parent.after_connect",
		"global.after_connect",
	}
	if !reflect.DeepEqual(trace, expected) {
		t.Errorf("expected connect order %v, got %v", expected, trace)
	}
}

func TestHookOnionOrderOnReceive(t *testing.T) {
	var trace []string
	router := hookTestRouter(&trace)

	conn, _ := connect(t, router, "/parents/42/child")
	trace = trace[:0]

	if err := conn.Dispatch(context.Background(), []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}

	expected := []string{
		"global.before_receive",
		"parent.before_receive",
		"child.before_receive",
		"handler",
		"child.after_receive",
		"parent.after_receive",
		"global.after_receive",
	}
	if !reflect.DeepEqual(trace, expected) {
		t.Errorf("expected receive order %v, got %v", expected, trace)
	}
}

type paramCheckingResource struct {
	meander.BaseResource
	sawParam string
}

func (r *paramCheckingResource) OnConnect(ctx context.Context, req *meander.Request, sock meander.Socket, params meander.Params) (bool, error) {
	r.sawParam = params.Get("injected")
	return true, nil
}

func TestBeforeConnectHookInjectsParams(t *testing.T) {
	hooks := meander.NewHookCollection(nil)
	hooks.MustAdd(meander.BeforeConnect, func(ctx context.Context, hctx *meander.HookContext) error {
		hctx.Params["injected"] = "default-value"
		return nil
	})

	var sawInAfter string
	hooks.MustAdd(meander.AfterConnect, func(ctx context.Context, hctx *meander.HookContext) error {
		sawInAfter = hctx.Params.Get("injected")
		return nil
	})

	router := meander.NewRouter(meander.WithHooks(hooks))
	router.AddRoute("/users/{id}", func() meander.Resource { return &paramCheckingResource{} })

	conn, _ := connect(t, router, "/users/42")

	resource := conn.Target().(*paramCheckingResource)
	if resource.sawParam != "default-value" {
		t.Errorf("expected OnConnect to see the injected param, got %q", resource.sawParam)
	}
	if sawInAfter != "default-value" {
		t.Errorf("expected after hook to see the injected param, got %q", sawInAfter)
	}
}

type erroringHandlerResource struct {
	meander.BaseResource
}

func TestHandlerErrorObservedByAfterReceiveHooks(t *testing.T) {
	handlerErr := errors.New("handler exploded")

	table := meander.NewHandlerTable()
	table.Register("boom", func(ctx context.Context, sock meander.Socket, payload any) error {
		return handlerErr
	})

	var observed []error
	hooks := meander.NewHookCollection(nil)
	hooks.MustAdd(meander.AfterReceive, func(ctx context.Context, hctx *meander.HookContext) error {
		observed = append(observed, hctx.Err)
		return nil
	})

	router := meander.NewRouter(meander.WithHooks(hooks))
	router.AddRoute("/x", func() meander.Resource {
		r := &erroringHandlerResource{}
		r.UseHandlers(table)
		return r
	})

	conn, _ := connect(t, router, "/x")

	err := conn.Dispatch(context.Background(), []byte(`{"type":"boom"}`))
	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}
	if len(observed) != 1 || !errors.Is(observed[0], handlerErr) {
		t.Errorf("expected after hook to observe the handler error, got %v", observed)
	}
}

type disconnectRecordingResource struct {
	meander.BaseResource
	trace *[]string
}

func (r *disconnectRecordingResource) OnDisconnect(ctx context.Context, sock meander.Socket, closeCode meander.Status) error {
	*r.trace = append(*r.trace, "on_disconnect")
	return nil
}

func TestConnCloseRunsDisconnectHooks(t *testing.T) {
	var trace []string
	var sawCode meander.Status

	hooks := meander.NewHookCollection(nil)
	hooks.MustAdd(meander.BeforeDisconnect, func(ctx context.Context, hctx *meander.HookContext) error {
		trace = append(trace, "before_disconnect")
		sawCode = hctx.CloseCode
		return nil
	})

	router := meander.NewRouter(meander.WithHooks(hooks))
	router.AddRoute("/x", func() meander.Resource {
		return &disconnectRecordingResource{trace: &trace}
	})

	conn, sock := connect(t, router, "/x")

	if err := conn.Close(context.Background(), meander.StatusGoingAway); err != nil {
		t.Fatal(err)
	}

	expected := []string{"before_disconnect", "on_disconnect"}
	if !reflect.DeepEqual(trace, expected) {
		t.Errorf("expected %v, got %v", expected, trace)
	}
	if sawCode != meander.StatusGoingAway {
		t.Errorf("expected hooks to see the close code, got %v", sawCode)
	}
	if !sock.closed || sock.closeCode != meander.StatusGoingAway {
		t.Errorf("expected socket closed with going-away, got closed=%v code=%v",
			sock.closed, sock.closeCode)
	}
}

func TestHookCollectionRejectsBadRegistrations(t *testing.T) {
	hooks := meander.NewHookCollection(nil)

	if err := hooks.Add("no_such_event", orderedHook(nil, "x")); err == nil {
		t.Error("expected error for unsupported event")
	}
	if err := hooks.Add(meander.BeforeConnect, nil); err == nil {
		t.Error("expected error for nil hook")
	}
}

func TestHookCollectionLiveInheritance(t *testing.T) {
	var trace []string

	parent := meander.NewHookCollection(nil)
	child := meander.NewHookCollection(parent)
	child.MustAdd(meander.BeforeConnect, orderedHook(&trace, "child"))

	// additions to the parent after the child was declared remain visible
	parent.MustAdd(meander.BeforeConnect, orderedHook(&trace, "parent"))

	router := meander.NewRouter()
	router.AddRoute("/x", func() meander.Resource {
		r := &plainResource{}
		r.UseHooks(child)
		return r
	})

	connect(t, router, "/x")

	expected := []string{"parent", "child"}
	if !reflect.DeepEqual(trace, expected) {
		t.Errorf("expected parent hooks to iterate first, got %v", trace)
	}
}

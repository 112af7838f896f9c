package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/labdesk/internal/assistant"
	"github.com/zulandar/labdesk/internal/models"
	"github.com/zulandar/labdesk/internal/registry"
	"github.com/zulandar/labdesk/internal/session"
)

// ---------------------------------------------------------------------------
// Scripted assistant client
// ---------------------------------------------------------------------------

type fakeClient struct {
	mu         sync.Mutex
	chats      []assistant.ChatRequest
	recommends []assistant.RecommendRequest

	chatErr   error
	chatPanic bool
	products  []models.Product
	gate      chan struct{} // when set, Chat blocks until it is closed
	started   chan struct{} // when set, receives once per Chat call
}

func (f *fakeClient) Chat(ctx context.Context, req assistant.ChatRequest) (assistant.ChatResponse, error) {
	f.mu.Lock()
	f.chats = append(f.chats, req)
	gate, started, err, boom := f.gate, f.started, f.chatErr, f.chatPanic
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if boom {
		panic("connection reset")
	}
	if err != nil {
		return assistant.ChatResponse{}, err
	}
	return assistant.ChatResponse{Response: "reply to " + req.Message}, nil
}

func (f *fakeClient) Search(context.Context, string) (assistant.SearchResponse, error) {
	return assistant.SearchResponse{}, nil
}

func (f *fakeClient) Recommend(_ context.Context, req assistant.RecommendRequest) (assistant.RecommendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recommends = append(f.recommends, req)
	return assistant.RecommendResponse{RecommendedProducts: f.products, LLMResponse: "I recommend this one."}, nil
}

func (f *fakeClient) Health(context.Context) (assistant.HealthStatus, error) {
	return assistant.HealthStatus{Status: "ok"}, nil
}

func (f *fakeClient) chatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats)
}

type fixture struct {
	reg     *registry.Registry
	machine *session.Machine
	client  *fakeClient
	coord   *Coordinator
}

func newFixture(t *testing.T, singleProduct bool) *fixture {
	t.Helper()
	machine := session.NewMachine(session.MachineOpts{})
	reg, err := registry.New(registry.RegistryOpts{Machine: machine})
	require.NoError(t, err)
	client := &fakeClient{}
	coord, err := NewCoordinator(CoordinatorOpts{
		Registry:      reg,
		Machine:       machine,
		Client:        client,
		SingleProduct: singleProduct,
	})
	require.NoError(t, err)
	return &fixture{reg: reg, machine: machine, client: client, coord: coord}
}

func (f *fixture) messages(t *testing.T, id string) []models.Message {
	t.Helper()
	st, ok := f.machine.Snapshot(id)
	require.True(t, ok)
	return st.Messages
}

func product(t *testing.T, raw string) models.Product {
	t.Helper()
	var p models.Product
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

// --- NewCoordinator tests ---

func TestNewCoordinator_Validation(t *testing.T) {
	f := newFixture(t, true)
	_, err := NewCoordinator(CoordinatorOpts{Machine: f.machine, Client: f.client})
	assert.Error(t, err)
	_, err = NewCoordinator(CoordinatorOpts{Registry: f.reg, Client: f.client})
	assert.Error(t, err)
	_, err = NewCoordinator(CoordinatorOpts{Registry: f.reg, Machine: f.machine})
	assert.Error(t, err)
}

// --- Submit tests ---

func TestSubmit_GeneralAppendsUserThenAssistant(t *testing.T) {
	f := newFixture(t, true)
	other := f.reg.Create()
	id := f.reg.Create()
	otherBefore := f.messages(t, other)

	reply, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "hi")
	require.NoError(t, err)

	msgs := f.messages(t, id)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.KindUser, msgs[1].Kind)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, models.KindAssistant, msgs[2].Kind)
	assert.Equal(t, "reply to hi", msgs[2].Content)
	assert.Less(t, msgs[1].ID, msgs[2].ID)
	assert.Equal(t, msgs[1], reply.User)
	assert.Equal(t, msgs[2], reply.Response)

	assert.Equal(t, otherBefore, f.messages(t, other))
	require.Len(t, f.client.chats, 1)
	assert.Equal(t, assistant.RoleGeneral, f.client.chats[0].RoleType)
	assert.Nil(t, f.client.chats[0].Context)
	assert.False(t, f.coord.Pending(id))
}

func TestSubmit_BlankIgnored(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()

	reply, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "   \n\t")
	require.NoError(t, err)
	assert.Equal(t, Reply{}, reply)
	assert.Len(t, f.messages(t, id), 1)
	assert.Zero(t, f.client.chatCount())
}

func TestSubmit_TrimsUtterance(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()
	_, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", f.messages(t, id)[1].Content)
}

func TestSubmit_UnknownThread(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: "ghost"}, "hi")
	assert.True(t, errors.Is(err, session.ErrUnknownThread))
	assert.False(t, f.coord.Pending("ghost"))
}

func TestSubmit_AutoNamesOnFirstUserMessage(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()

	_, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "I need a mini PC for the lab, please!!")
	require.NoError(t, err)
	th, _ := f.reg.Get(id)
	assert.Equal(t, "I need a mini PC for the lab p...", th.Name)

	_, err = f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "second question")
	require.NoError(t, err)
	th, _ = f.reg.Get(id)
	assert.Equal(t, "I need a mini PC for the lab p...", th.Name, "only the first user message names the thread")
}

func TestSubmit_PunctuationOnlyUsesFallbackName(t *testing.T) {
	f := newFixture(t, true)
	oldest := f.reg.Create()
	f.reg.Create()
	f.reg.Create()

	_, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: oldest}, "???")
	require.NoError(t, err)
	th, _ := f.reg.Get(oldest)
	assert.Equal(t, "Chat 3", th.Name, "the fallback counts threads when the name is applied")
}

func TestSubmit_ProductSearchAttachesProducts(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()
	_, err := f.machine.SwitchMode(id, models.ModeProductSearch)
	require.NoError(t, err)
	f.client.products = []models.Product{product(t, `{"id":"p1","manufacturer":"Dell","model":"7010"}`)}

	reply, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "mini pc")
	require.NoError(t, err)

	require.Len(t, f.client.recommends, 1)
	assert.Equal(t, assistant.RecommendRequest{Query: "mini pc", SingleProduct: true}, f.client.recommends[0])
	assert.Equal(t, models.KindAssistant, reply.Response.Kind)
	assert.Equal(t, "I recommend this one.", reply.Response.Content)
	require.Len(t, reply.Response.Products, 1)
	assert.Equal(t, "p1", reply.Response.Products[0].ID)
	assert.False(t, reply.Response.ShowProducts)
}

func TestSubmit_ProductSearchCapsToOneProduct(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()
	f.machine.SwitchMode(id, models.ModeProductSearch)
	f.client.products = []models.Product{
		product(t, `{"id":"p1"}`),
		product(t, `{"id":"p2"}`),
	}

	reply, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "tablets")
	require.NoError(t, err)
	require.Len(t, reply.Response.Products, 1)
	assert.Equal(t, "p1", reply.Response.Products[0].ID)
}

func TestSubmit_ProductSearchTrustsServerWhenCapDisabled(t *testing.T) {
	f := newFixture(t, false)
	id := f.reg.Create()
	f.machine.SwitchMode(id, models.ModeProductSearch)
	f.client.products = []models.Product{product(t, `{"id":"p1"}`), product(t, `{"id":"p2"}`)}

	reply, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "tablets")
	require.NoError(t, err)
	assert.Len(t, reply.Response.Products, 2)
}

func TestSubmit_ProductSpecificSendsContext(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()
	p := product(t, `{"id":"p9","header":{"manufacturer":"HP","model":"Elite","type":"Tablet"}}`)
	_, err := f.machine.SelectProduct(id, &p)
	require.NoError(t, err)

	_, err = f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "battery?")
	require.NoError(t, err)

	require.Len(t, f.client.chats, 1)
	req := f.client.chats[0]
	assert.Equal(t, assistant.RoleProductSpecific, req.RoleType)
	require.NotNil(t, req.Context)
	require.NotNil(t, req.Context.Product)
	assert.Equal(t, "p9", req.Context.Product.ID)
}

func TestCall_ProductSpecificWithoutProductFailsFast(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.coord.call(context.Background(), "hi", models.ModeProductSpecific, nil)
	assert.True(t, errors.Is(err, ErrNoProductSelected))
	assert.Zero(t, f.client.chatCount())
}

func TestCall_InvalidMode(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.coord.call(context.Background(), "hi", models.Mode("bogus"), nil)
	require.Error(t, err)
}

func TestSubmit_RemoteFailureAppendsOneErrorMessage(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()
	f.client.chatErr = &assistant.RemoteError{Op: "chat", StatusCode: http.StatusBadGateway}

	reply, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "hi")
	require.NoError(t, err)

	msgs := f.messages(t, id)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.KindUser, msgs[1].Kind)
	assert.Equal(t, models.KindError, msgs[2].Kind)
	assert.Equal(t, "Error: chat failed with status 502. Please try again.", msgs[2].Content)
	assert.Equal(t, msgs[2], reply.Response)
	assert.False(t, f.coord.Pending(id))
}

func TestSubmit_PanicInClientIsRecorded(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()
	f.client.chatPanic = true

	reply, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "hi")
	require.NoError(t, err)
	assert.Equal(t, models.KindError, reply.Response.Kind)
	assert.Contains(t, reply.Response.Content, "connection reset")
	assert.False(t, f.coord.Pending(id))
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "the assistant did not answer in time", failureReason(context.DeadlineExceeded))
	assert.Equal(t, "chat failed: dial tcp: refused", failureReason(&assistant.RemoteError{Op: "chat", Message: "dial tcp: refused"}))
}

// --- concurrency tests ---

func TestSubmit_BusyThreadRejectsSecondSubmission(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()
	f.client.gate = make(chan struct{})
	f.client.started = make(chan struct{}, 1)

	first := f.coord.Dispatch(context.Background(), SessionContext{ThreadID: id}, "first")
	<-f.client.started
	assert.True(t, f.coord.Pending(id))

	_, err := f.coord.Submit(context.Background(), SessionContext{ThreadID: id}, "second")
	assert.True(t, errors.Is(err, ErrThreadBusy))

	close(f.client.gate)
	out := <-first
	require.NoError(t, out.Err)
	assert.False(t, f.coord.Pending(id))
	assert.Len(t, f.messages(t, id), 3)
}

func TestSubmit_OtherThreadNotBlocked(t *testing.T) {
	f := newFixture(t, true)
	a := f.reg.Create()
	b := f.reg.Create()
	f.client.gate = make(chan struct{})
	f.client.started = make(chan struct{}, 2)

	first := f.coord.Dispatch(context.Background(), SessionContext{ThreadID: a}, "slow")
	<-f.client.started

	second := f.coord.Dispatch(context.Background(), SessionContext{ThreadID: b}, "fast")
	<-f.client.started
	assert.True(t, f.coord.Pending(a))
	assert.True(t, f.coord.Pending(b))

	close(f.client.gate)
	require.NoError(t, (<-first).Err)
	require.NoError(t, (<-second).Err)
	assert.Equal(t, "reply to slow", f.messages(t, a)[2].Content)
	assert.Equal(t, "reply to fast", f.messages(t, b)[2].Content)
}

func TestSubmit_ReplyLandsInOriginatingThread(t *testing.T) {
	f := newFixture(t, true)
	origin := f.reg.Create()
	elsewhere := f.reg.Create()
	f.reg.Select(origin)
	f.client.gate = make(chan struct{})
	f.client.started = make(chan struct{}, 1)

	done := f.coord.Dispatch(context.Background(), SessionContext{ThreadID: origin}, "hi")
	<-f.client.started
	f.reg.Select(elsewhere)
	close(f.client.gate)
	require.NoError(t, (<-done).Err)

	assert.Len(t, f.messages(t, origin), 3)
	assert.Len(t, f.messages(t, elsewhere), 1)
}

func TestSubmit_ThreadDeletedMidFlight(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()
	f.reg.Create()
	f.client.gate = make(chan struct{})
	f.client.started = make(chan struct{}, 1)

	done := f.coord.Dispatch(context.Background(), SessionContext{ThreadID: id}, "hi")
	<-f.client.started
	require.True(t, f.reg.Delete(id))
	close(f.client.gate)

	select {
	case out := <-done:
		assert.True(t, errors.Is(out.Err, session.ErrUnknownThread))
		assert.Equal(t, "hi", out.Reply.User.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not finish")
	}
	assert.False(t, f.coord.Pending(id))
}

// --- SubmitExample tests ---

func TestSubmitExample_UsesActiveThread(t *testing.T) {
	f := newFixture(t, true)
	a := f.reg.Create()
	f.reg.Create()
	f.reg.Select(a)

	_, err := f.coord.SubmitExample(context.Background(), session.Examples(models.ModeGeneral)[0])
	require.NoError(t, err)
	msgs := f.messages(t, a)
	require.Len(t, msgs, 3)
	assert.Equal(t, "What IT hardware is available for laboratories?", msgs[1].Content)
}

func TestDispatch_ClosesChannel(t *testing.T) {
	f := newFixture(t, true)
	id := f.reg.Create()
	ch := f.coord.Dispatch(context.Background(), SessionContext{ThreadID: id}, "hi")
	<-ch
	_, open := <-ch
	assert.False(t, open)
}

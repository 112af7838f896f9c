package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/labdesk/internal/assistant"
	"github.com/zulandar/labdesk/internal/dispatch"
	"github.com/zulandar/labdesk/internal/models"
	"github.com/zulandar/labdesk/internal/registry"
	"github.com/zulandar/labdesk/internal/session"
)

type scriptedClient struct {
	products []models.Product
}

func (s *scriptedClient) Chat(_ context.Context, req assistant.ChatRequest) (assistant.ChatResponse, error) {
	if req.RoleType == assistant.RoleProductSpecific {
		return assistant.ChatResponse{Response: "about " + req.Context.Product.Name()}, nil
	}
	return assistant.ChatResponse{Response: "echo: " + req.Message}, nil
}

func (s *scriptedClient) Search(context.Context, string) (assistant.SearchResponse, error) {
	return assistant.SearchResponse{Products: s.products, Count: len(s.products), Message: "Found products"}, nil
}

func (s *scriptedClient) Recommend(context.Context, assistant.RecommendRequest) (assistant.RecommendResponse, error) {
	return assistant.RecommendResponse{RecommendedProducts: s.products, LLMResponse: "Try this one."}, nil
}

func (s *scriptedClient) Health(context.Context) (assistant.HealthStatus, error) {
	return assistant.HealthStatus{Status: "ok"}, nil
}

func newTestREPL(t *testing.T, input string) (*repl, *bytes.Buffer) {
	t.Helper()
	var p models.Product
	require.NoError(t, json.Unmarshal([]byte(`{"id":"p1","header":{"manufacturer":"Dell","model":"7010","type":"Mini PC"}}`), &p))
	client := &scriptedClient{products: []models.Product{p}}

	machine := session.NewMachine(session.MachineOpts{})
	reg, err := registry.New(registry.RegistryOpts{Machine: machine})
	require.NoError(t, err)
	reg.Create()
	coord, err := dispatch.NewCoordinator(dispatch.CoordinatorOpts{Registry: reg, Machine: machine, Client: client, SingleProduct: true})
	require.NoError(t, err)

	out := new(bytes.Buffer)
	return &repl{
		reg:     reg,
		machine: machine,
		coord:   coord,
		client:  client,
		in:      strings.NewReader(input),
		out:     out,
	}, out
}

// --- repl tests ---

func TestREPL_GeneralChat(t *testing.T) {
	r, out := newTestREPL(t, "hello there\n/threads\n/quit\n")
	require.NoError(t, r.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "» "+session.WelcomeText)
	assert.Contains(t, text, "assistant> echo: hello there")
	assert.Contains(t, text, "* 1. hello there")
}

func TestREPL_SearchSelectAndDiscuss(t *testing.T) {
	input := strings.Join([]string{
		"/mode search",
		"mini pc",
		"/products",
		"/select 1",
		"battery life?",
		"/deselect",
	}, "\n") + "\n"
	r, out := newTestREPL(t, input)
	require.NoError(t, r.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Switched to product search mode.")
	assert.Contains(t, text, "assistant> Try this one.")
	assert.Contains(t, text, "1. Mini PC - Dell 7010")
	assert.Contains(t, text, "» Selected Product: Mini PC - Dell 7010")
	assert.Contains(t, text, "assistant> about Dell 7010")
	assert.Contains(t, text, "» Product deselected: Mini PC - Dell 7010")
}

func TestREPL_SpecificModeNeedsProduct(t *testing.T) {
	r, out := newTestREPL(t, "/mode specific\n/mode bogus\n")
	require.NoError(t, r.run(context.Background()))
	assert.Contains(t, out.String(), "Please select a product first.")
	assert.Contains(t, out.String(), "unknown mode")
}

func TestREPL_ThreadCommands(t *testing.T) {
	r, out := newTestREPL(t, "/new\n/rename Lab #2\n/threads\n/switch 2\n/delete 1\n/threads\n")
	require.NoError(t, r.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, `Renamed to "Lab 2"`)
	assert.Contains(t, text, "* 1. Lab 2")
	require.Len(t, r.reg.Threads(), 1)
	assert.Equal(t, "Chat 1", r.reg.Threads()[0].Name)
}

func TestREPL_ExampleAndSearch(t *testing.T) {
	r, out := newTestREPL(t, "/examples\n/ex 1\n/search dell\n/ex 9\n/nope\n")
	require.NoError(t, r.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "assistant> echo: What IT hardware is available for laboratories?")
	assert.Contains(t, text, "Found products")
	assert.Contains(t, text, "Usage: /ex N")
	assert.Contains(t, text, "Unknown command /nope")
}

func TestParseModeArg(t *testing.T) {
	m, err := parseModeArg("Search")
	require.NoError(t, err)
	assert.Equal(t, models.ModeProductSearch, m)
	_, err = parseModeArg("")
	assert.ErrorIs(t, err, errUnknownMode)
}

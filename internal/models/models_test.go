package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Kind tests ---

func TestKind_TextRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindSystem, KindUser, KindAssistant, KindError} {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var got Kind
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, k, got)
	}
}

func TestKind_Invalid(t *testing.T) {
	_, err := Kind(9).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "Kind(9)", Kind(9).String())

	var k Kind
	assert.Error(t, k.UnmarshalText([]byte("bot")))
}

// --- Message tests ---

func TestMessage_JSONShape(t *testing.T) {
	m := UserMessage("hi")
	m.ID = 1700000000000
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1700000000000,"type":"user","content":"hi","showProducts":false}`, string(b))
}

func TestErrorMessage(t *testing.T) {
	m := ErrorMessage("request timed out")
	assert.Equal(t, KindError, m.Kind)
	assert.Equal(t, "Error: request timed out. Please try again.", m.Content)
}

func TestMessage_CloneIsIndependent(t *testing.T) {
	m := SystemMessage("welcome", []string{"a", "b"})
	c := m.Clone()
	c.Examples[0] = "changed"
	assert.Equal(t, "a", m.Examples[0])
}

// --- Mode tests ---

func TestParseMode(t *testing.T) {
	for _, m := range Modes {
		got, err := ParseMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("PRODUCT_SEARCH")
	assert.Error(t, err)
}

func TestMode_Labels(t *testing.T) {
	assert.Equal(t, "General", ModeGeneral.Label())
	assert.Equal(t, "Product Search", ModeProductSearch.Label())
	assert.Equal(t, "Product Specific", ModeProductSpecific.Label())
	assert.NotEmpty(t, ModeProductSearch.Tooltip())
}

// --- Product tests ---

func TestProduct_HeaderNaming(t *testing.T) {
	var p Product
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x1","header":{"manufacturer":"HP","model":"Elite x2","type":"Tablet"},"specs":{"ram":"16GB"}}`), &p))
	assert.Equal(t, "x1", p.ID)
	assert.Equal(t, "HP Elite x2", p.Name())
	assert.Equal(t, "Tablet - HP Elite x2", p.Label())
}

func TestProduct_TopLevelNamingAndNumericID(t *testing.T) {
	var p Product
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"manufacturer":"Dell","model":"OptiPlex","type":"Mini PC"}`), &p))
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "Dell OptiPlex", p.Name())
}

func TestProduct_RawRecordPreserved(t *testing.T) {
	raw := `{"id":"x1","header":{"manufacturer":"HP","model":"Elite"},"price":{"chf":899}}`
	var p Product
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(b))
}

func TestProduct_NullLeavesZero(t *testing.T) {
	var p Product
	require.NoError(t, json.Unmarshal([]byte(` null `), &p))
	assert.True(t, p.IsZero())

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotEqual(t, "null", string(b))

	var listed []Product
	require.NoError(t, json.Unmarshal([]byte(`[{"id":"a"},null]`), &listed))
	require.Len(t, listed, 2)
	assert.False(t, listed[0].IsZero())
	assert.True(t, listed[1].IsZero())
}

func TestProduct_Same(t *testing.T) {
	a := Product{ID: "1"}
	b := Product{ID: "1", Model: "other"}
	assert.True(t, a.Same(b))
	assert.False(t, a.Same(Product{ID: "2"}))
}

// --- SavedThread tests ---

func TestSavedThread_JSONFieldNames(t *testing.T) {
	st := SavedThread{ID: "t1", Name: "Chat 1", Mode: ModeGeneral, Messages: []Message{}}
	b, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t1","name":"Chat 1","messages":[],"selectedProduct":null,"mode":"general"}`, string(b))
	assert.Equal(t, Thread{ID: "t1", Name: "Chat 1"}, st.Thread())
	assert.Equal(t, ModeGeneral, st.State().Mode)
}

func TestThreadState_HasUserMessage(t *testing.T) {
	st := ThreadState{Messages: []Message{SystemMessage("hi", nil)}}
	assert.False(t, st.HasUserMessage())
	st.Messages = append(st.Messages, UserMessage("q"))
	assert.True(t, st.HasUserMessage())
}

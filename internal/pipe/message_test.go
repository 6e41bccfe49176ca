package pipe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageContentUnmarshalString(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"plain text"}`), &m))
	require.Equal(t, "plain text", m.Content.Text)
	require.Empty(t, m.Content.Images)
}

func TestMessageContentUnmarshalParts(t *testing.T) {
	body := `{"role":"user","content":[
		{"type":"text","text":"look at "},
		{"type":"text","text":"this"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}
	]}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(body), &m))
	require.Equal(t, "look at this", m.Content.Text)
	require.Equal(t, []string{"data:image/png;base64,AAAA"}, m.Content.Images)
}

func TestMessageContentMarshalRoundTrip(t *testing.T) {
	plain := Message{Role: "assistant", Content: Text("hi")}
	data, err := json.Marshal(plain)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"assistant","content":"hi"}`, string(data))

	withImage := Message{Role: "user", Content: MessageContent{Text: "see", Images: []string{"data:x"}}}
	data, err = json.Marshal(withImage)
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"see"},{"type":"image_url","image_url":{"url":"data:x"}}]}`, string(data))
}

func TestPopSystemMessage(t *testing.T) {
	system, rest := popSystemMessage([]Message{
		{Role: "system", Content: Text("be brief")},
		{Role: "user", Content: Text("hi")},
	})
	require.Equal(t, "be brief", system)
	require.Len(t, rest, 1)

	system, rest = popSystemMessage([]Message{{Role: "user", Content: Text("hi")}})
	require.Empty(t, system)
	require.Len(t, rest, 1)
}

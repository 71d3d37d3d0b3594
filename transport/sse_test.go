package transport

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSSEReader(t *testing.T) {
	stream := strings.Join([]string{
		": keepalive comment",
		"event: endpoint",
		"data: /messages?session_id=abc",
		"",
		"event: message",
		"data: {\"jsonrpc\":\"2.0\",",
		"data: \"id\":1}",
		"",
		"data: no event name",
		"",
	}, "\n")
	reader := newSSEReader(strings.NewReader(stream))

	event, err := reader.Next()
	if assert.Nil(t, err) {
		assert.EqualValues(t, "endpoint", event.Name)
		assert.EqualValues(t, "/messages?session_id=abc", string(event.Data))
	}

	event, err = reader.Next()
	if assert.Nil(t, err) {
		assert.EqualValues(t, "message", event.Name)
		// multi-line data fields join with a newline
		assert.EqualValues(t, "{\"jsonrpc\":\"2.0\",\n\"id\":1}", string(event.Data))
	}

	event, err = reader.Next()
	if assert.Nil(t, err) {
		assert.EqualValues(t, "", event.Name)
		assert.EqualValues(t, "no event name", string(event.Data))
	}

	_, err = reader.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReaderUnterminatedFinalEvent(t *testing.T) {
	reader := newSSEReader(strings.NewReader("event: message\ndata: {\"id\":1}\n"))
	event, err := reader.Next()
	if assert.Nil(t, err) {
		assert.EqualValues(t, "message", event.Name)
		assert.EqualValues(t, `{"id":1}`, string(event.Data))
	}
	_, err = reader.Next()
	assert.ErrorIs(t, err, io.EOF)
}

package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const redacted = "***REDACTED***"

func testRedactor() *Redactor {
	return NewRedactor(SanitizeConfig{
		Headers:     []string{"Authorization", "X-Api-Key", "Set-Cookie"},
		BodyFields:  []string{"token", "password", "secret"},
		Replacement: redacted,
	})
}

func TestRedactHeadersAndQuery(t *testing.T) {
	r := testRedactor()

	headers := r.Headers(map[string]string{"authorization": "Bearer abc", "X-API-Key": "k", "Accept": "application/json"})
	assert.Equal(t, redacted, headers["authorization"])
	assert.Equal(t, redacted, headers["X-API-Key"])
	assert.Equal(t, "application/json", headers["Accept"])

	query := r.Query(map[string][]string{"token": {"abc", "def"}, "q": {"ok"}})
	assert.Equal(t, []string{redacted, redacted}, query["token"])
	assert.Equal(t, []string{"ok"}, query["q"])
}

func TestRedactBodyNested(t *testing.T) {
	r := testRedactor()
	out := r.Body(`{"user":{"password":"p","name":"n"},"items":[{"token":"t"}],"secret":"s"}`)

	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, redacted, v["secret"])
	assert.Equal(t, redacted, v["user"].(map[string]interface{})["password"])
	assert.Equal(t, "n", v["user"].(map[string]interface{})["name"])
	assert.Equal(t, redacted, v["items"].([]interface{})[0].(map[string]interface{})["token"])

	assert.Equal(t, "plain text", r.Body("plain text"))
}

func TestRedactValueDoesNotMutateInput(t *testing.T) {
	r := testRedactor()
	in := map[string]interface{}{"headers": map[string]interface{}{"Authorization": "Bearer x"}, "url": "/me"}
	out := r.Value(in).(map[string]interface{})

	assert.Equal(t, redacted, out["headers"].(map[string]interface{})["Authorization"])
	assert.Equal(t, "Bearer x", in["headers"].(map[string]interface{})["Authorization"])
}

func TestRedactText(t *testing.T) {
	r := testRedactor()
	line := `CMD: GET /me; HEADER {"Authorization": "Bearer abc", "Accept": "json"}`
	assert.Equal(t, `CMD: GET /me; HEADER {"Authorization": "`+redacted+`", "Accept": "json"}`, r.Text(line))

	assert.Equal(t, "no secrets", NewRedactor(SanitizeConfig{}).Text("no secrets"))
}

func TestNilRedactorPassesThrough(t *testing.T) {
	var r *Redactor
	assert.Equal(t, "x", r.Text("x"))
	assert.Equal(t, map[string]string{"a": "b"}, r.Headers(map[string]string{"a": "b"}))
}

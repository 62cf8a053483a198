package handlers

import (
	"bytes"
	"encoding/json"
	"net/url"

	"github.com/umar/users-api/internal/models"
)

// Request is the transport-independent view of an inbound call.
type Request struct {
	Method string
	Query  Query
	Body   []byte
}

// Query maps each parameter name to one canonical value. A parameter given
// more than once, or with no value, is kept with an empty value so callers
// can tell "present but unusable" from "absent".
type Query map[string]string

func NormalizeQuery(values url.Values) Query {
	q := make(Query, len(values))
	for name, vs := range values {
		if len(vs) == 1 {
			q[name] = vs[0]
			continue
		}
		q[name] = ""
	}
	return q
}

// Lookup returns the parameter value and whether it was present at all.
func (q Query) Lookup(name string) (string, bool) {
	v, ok := q[name]
	return v, ok
}

// decodeUserInput treats an empty body as an empty object.
func decodeUserInput(body []byte) (models.UserInput, error) {
	var in models.UserInput
	if len(bytes.TrimSpace(body)) == 0 {
		return in, nil
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return models.UserInput{}, err
	}
	return in, nil
}

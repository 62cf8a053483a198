package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// User mirrors a row of the users table. Every attribute except ID is
// nullable: updates overwrite the whole row, including with NULL.
type User struct {
	ID        string  `json:"id"`
	Email     *string `json:"email"`
	Name      *string `json:"name"`
	Username  *string `json:"username"`
	Phone     *string `json:"phone"`
	AvatarURL *string `json:"avatar_url"`
	Password  *string `json:"password"`
}

// UserInput is the request body accepted by create and update.
type UserInput struct {
	Email     *string `json:"email"`
	Name      *string `json:"name"`
	Username  *string `json:"username"`
	Phone     *string `json:"phone"`
	AvatarURL *string `json:"avatar_url"`
	Password  *string `json:"password"`
}

// UnmarshalJSON accepts any JSON scalar for a field and keeps its text form,
// so "phone": 5551234 is stored as "5551234". Objects and arrays are rejected.
func (in *UserInput) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out UserInput
	fields := []struct {
		key string
		dst **string
	}{
		{"email", &out.Email},
		{"name", &out.Name},
		{"username", &out.Username},
		{"phone", &out.Phone},
		{"avatar_url", &out.AvatarURL},
		{"password", &out.Password},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		s, err := scalarText(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.key, err)
		}
		*f.dst = s
	}
	*in = out
	return nil
}

func scalarText(v json.RawMessage) (*string, error) {
	v = bytes.TrimSpace(v)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
		return nil, nil
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, err
		}
		return &s, nil
	case v[0] == '{' || v[0] == '[':
		return nil, fmt.Errorf("expected a scalar value")
	default:
		s := string(v)
		return &s, nil
	}
}

// HasRequired reports whether email, name and username are all non-empty.
func (in UserInput) HasRequired() bool {
	return present(in.Email) && present(in.Name) && present(in.Username)
}

// Args returns the attributes in column order: email, name, username,
// phone, avatar_url, password. Nil pointers become SQL NULL.
func (in UserInput) Args() []any {
	return []any{
		nullable(in.Email),
		nullable(in.Name),
		nullable(in.Username),
		nullable(in.Phone),
		nullable(in.AvatarURL),
		nullable(in.Password),
	}
}

// Redacted returns a copy of u without the password.
func (u User) Redacted() User {
	u.Password = nil
	return u
}

// UserFromRow maps a row keyed by column name onto a User.
func UserFromRow(row map[string]any) (User, error) {
	id, err := text(row["id"])
	if err != nil {
		return User{}, fmt.Errorf("column id: %w", err)
	}
	if id == nil || *id == "" {
		return User{}, fmt.Errorf("row has no id")
	}

	u := User{ID: *id}
	fields := []struct {
		column string
		dst    **string
	}{
		{"email", &u.Email},
		{"name", &u.Name},
		{"username", &u.Username},
		{"phone", &u.Phone},
		{"avatar_url", &u.AvatarURL},
		{"password", &u.Password},
	}
	for _, f := range fields {
		v, err := text(row[f.column])
		if err != nil {
			return User{}, fmt.Errorf("column %s: %w", f.column, err)
		}
		*f.dst = v
	}
	return u, nil
}

func present(s *string) bool {
	return s != nil && *s != ""
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func text(v any) (*string, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	case [16]byte:
		// pgx hands back Postgres uuid columns as raw bytes.
		s = uuid.UUID(t).String()
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	case fmt.Stringer:
		s = t.String()
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
	return &s, nil
}

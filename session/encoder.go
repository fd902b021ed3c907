package session

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/MrEthical07/goAuthClient/token"
)

const (
	userFormatVersionCurrent = 1
	// userFormatVersionLegacy is the bare user object written before the
	// envelope existed. It is accepted on read and rewritten as current.
	userFormatVersionLegacy = 0
)

var errUserSnapshotInvalid = errors.New("user snapshot invalid")

type userEnvelope struct {
	Version int   `json:"v"`
	User    *User `json:"user"`
}

// EncodeUser serializes a user snapshot in the current envelope format.
func EncodeUser(u User) ([]byte, error) {
	if strings.TrimSpace(u.ID) == "" {
		return nil, errors.New("user id is required")
	}
	return json.Marshal(userEnvelope{Version: userFormatVersionCurrent, User: &u})
}

// DecodeUser parses a snapshot written by any known format version and reports
// the version it found.
func DecodeUser(data []byte) (User, int, error) {
	var env userEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return User{}, 0, errUserSnapshotInvalid
	}

	switch {
	case env.Version == userFormatVersionCurrent && env.User != nil:
		return normalizeUser(*env.User)
	case env.Version == userFormatVersionLegacy && env.User == nil:
		var legacy User
		if err := json.Unmarshal(data, &legacy); err != nil {
			return User{}, 0, errUserSnapshotInvalid
		}
		u, _, err := normalizeUser(legacy)
		return u, userFormatVersionLegacy, err
	default:
		return User{}, 0, errUserSnapshotInvalid
	}
}

func normalizeUser(u User) (User, int, error) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return User{}, 0, errUserSnapshotInvalid
	}
	u.Role = token.ParseRole(string(u.Role))
	return u, userFormatVersionCurrent, nil
}

package validate

import (
	"fmt"
	"regexp"
	"time"
)

var emailRx = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// UserID must be lowercase letters, digits, underscore, 1-40 chars.
var userIdRx = regexp.MustCompile(`^[a-z0-9_]{1,40}$`)

var procedureRx = regexp.MustCompile(`^[a-z0-9\-]{1,60}$`)

func Email(v string) error {
	if v == "" {
		return fmt.Errorf("email is required")
	}
	if len(v) > 320 || !emailRx.MatchString(v) {
		return fmt.Errorf("invalid email")
	}
	return nil
}

func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field string, v *string, limit int) error {
	if v == nil {
		return nil
	}
	if len(*v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

// TimeZone checks the value against the IANA database. Empty is allowed;
// the scheduling default fills it in later.
func TimeZone(v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.LoadLocation(v); err != nil {
		return fmt.Errorf("unknown timezone %q", v)
	}
	return nil
}

// -------- Request specific helpers ----------

// CreateUser validates input for registering a new user. UserID is mandatory.
func CreateUser(userId, email, timeZone string, displayName *string) error {
	if userId == "" {
		return fmt.Errorf("userId is required")
	}
	if !userIdRx.MatchString(userId) {
		return fmt.Errorf("userId must match %s", userIdRx.String())
	}
	if err := Email(email); err != nil {
		return err
	}
	if err := TimeZone(timeZone); err != nil {
		return err
	}
	return MaxLen("displayName", displayName, 100)
}

// ProcedureName validates a directive ledger procedure name.
func ProcedureName(v string) error {
	if !procedureRx.MatchString(v) {
		return fmt.Errorf("procedureName must match %s", procedureRx.String())
	}
	return nil
}

// UserRequest validates an inbound natural-language request.
func UserRequest(text string) error {
	if err := NonEmpty("text", text); err != nil {
		return err
	}
	if len(text) > 4000 {
		return fmt.Errorf("text exceeds 4000 characters")
	}
	return nil
}
